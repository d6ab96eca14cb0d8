package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/engine/auth"
	"plantline/internal/repo"
)

type submissionOutput struct {
	Body SubmissionResponse `json:"body"`
}

func registerProductionRecords(api huma.API, e engine.Engine, r repo.Repo, policy auth.Policy) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-production-record",
		Method:        http.MethodPost,
		Path:          "/production-records",
		Summary:       "Submit a production record and derive follow-up tasks",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ProductionRecordRequest `json:"body"`
	}) (*submissionOutput, error) {
		actorID, authErr := requirePermission(ctx, policy, auth.PermProductionSubmit)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := input.Body.toDomain()
		if err != nil {
			return nil, handleError(ctx, err)
		}
		sub, err := e.SubmitProduction(ctx, ev, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &submissionOutput{Body: submissionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-production-records",
		Method:      http.MethodGet,
		Path:        "/production-records",
		Summary:     "List recent production records",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ProductionEvent `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermProductionRead); authErr != nil {
			return nil, authErr
		}
		items, err := r.ListProductionRecords(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.ProductionEvent{}
		}
		return &struct {
			Body []domain.ProductionEvent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-production-record",
		Method:      http.MethodGet,
		Path:        "/production-records/{id}",
		Summary:     "Get a production record with its entries",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProductionEvent `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermProductionRead); authErr != nil {
			return nil, authErr
		}
		rec, err := e.GetProductionRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.ProductionEvent `json:"body"`
		}{Body: rec}, nil
	})
}

func registerPDIRecords(api huma.API, e engine.Engine, r repo.Repo, policy auth.Policy) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-pdi-record",
		Method:        http.MethodPost,
		Path:          "/pdi-records",
		Summary:       "Submit a pre-delivery inspection result",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body PDIRecordRequest `json:"body"`
	}) (*submissionOutput, error) {
		actorID, authErr := requirePermission(ctx, policy, auth.PermPDISubmit)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := e.SubmitPDI(ctx, input.Body.toDomain(), actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &submissionOutput{Body: submissionResponse(sub)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pdi-records",
		Method:      http.MethodGet,
		Path:        "/pdi-records",
		Summary:     "List recent PDI records",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.PDIEvent `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermPDIRead); authErr != nil {
			return nil, authErr
		}
		items, err := r.ListPDIRecords(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.PDIEvent{}
		}
		return &struct {
			Body []domain.PDIEvent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pdi-record",
		Method:      http.MethodGet,
		Path:        "/pdi-records/{id}",
		Summary:     "Get a PDI record",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.PDIEvent `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, policy, auth.PermPDIRead); authErr != nil {
			return nil, authErr
		}
		rec, err := e.GetPDIRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.PDIEvent `json:"body"`
		}{Body: rec}, nil
	})
}
