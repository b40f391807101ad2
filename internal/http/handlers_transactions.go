package http

import (
	"net/http"

	"github.com/gorilla/mux"

	applog "mintmind/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	page, err := s.txs.ListTransactions(ctx, OwnerFromContext(ctx), q)
	if err != nil {
		s.writeServiceError(ctx, w, applog.OpList, err)
		return
	}
	NewResponse().Body(toListJSON(page)).Write(w)
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := ParseID(mux.Vars(r)["id"])
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	edit, err := ParseEditRequest(r.Body)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	owner := OwnerFromContext(ctx)
	tx, err := s.txs.EditTransaction(ctx, owner, id, edit)
	if err != nil {
		s.writeServiceError(ctx, w, applog.OpUpdate, err)
		return
	}
	s.invalidateOwner(ctx, owner)

	applog.FromContext(ctx).InfoContext(ctx, "Transaction edited",
		applog.FieldTransactionID, tx.ID,
		applog.FieldCategory, tx.AssignedCategory)
	NewResponse().Body(toTransactionJSON(tx)).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cats, err := s.txs.Categories(ctx, OwnerFromContext(ctx))
	if err != nil {
		s.writeServiceError(ctx, w, applog.OpRead, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	NewResponse().Body(categoriesJSON{Categories: cats, Count: len(cats)}).Write(w)
}

// handleSync answers 202 when the request was queued for the worker and 200
// with the batch report when the sync ran inline.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := OwnerFromContext(ctx)

	out, err := s.txs.RequestSync(ctx, owner, "manual")
	if err != nil {
		s.writeServiceError(ctx, w, applog.OpSync, err)
		return
	}
	if out.Queued {
		NewResponse().Status(http.StatusAccepted).Body(toSyncJSON("queued", nil)).Write(w)
		return
	}

	s.invalidateOwner(ctx, owner)
	status := "completed"
	if out.Shared {
		status = "joined"
	}
	NewResponse().Body(toSyncJSON(status, out.Report)).Write(w)
}
