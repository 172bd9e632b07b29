package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
)

// scopeExtractionMiddleware extracts (tenant, namespace) from the URL
// parameters {tenant} and {namespace} and stores the resulting Scope on the
// request context (spec.md §3, §6.1). Mounted only under the
// /tenants/{tenant}/namespaces/{namespace} prefix; routes mounted at root
// never see these params and fall through to the default scope.
func scopeExtractionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := scope.Scope{
			Tenant:    chi.URLParam(r, "tenant"),
			Namespace: chi.URLParam(r, "namespace"),
		}
		if err := sc.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(scope.WithContext(r.Context(), sc)))
	})
}
