// params.go — привязка path и query параметров через oapi-codegen runtime.
// Стили и имена параметров соответствуют openapi.yaml.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/wfm-allocator/internal/api/errors"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

// pathUUID привязывает UUID из сегмента пути.
// При ошибке пишет 400 и возвращает false.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %v", name, err))
		return "", false
	}
	return id.String(), true
}

// bindQuery привязывает необязательный query-параметр (style form, explode).
func bindQuery(r *http.Request, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		return fmt.Errorf("некорректный параметр %s: %w", name, err)
	}
	return nil
}

// queryParam — имя query-параметра и адрес для привязки.
type queryParam struct {
	name string
	dest any
}

// bindAll привязывает query-параметры по порядку, останавливаясь на первой ошибке.
func bindAll(w http.ResponseWriter, r *http.Request, params ...queryParam) bool {
	for _, p := range params {
		if err := bindQuery(r, p.name, p.dest); err != nil {
			apierrors.ValidationError(w, err.Error())
			return false
		}
	}
	return true
}

// ListFileProcessesParams — параметры GET /file-processes.
type ListFileProcessesParams struct {
	ProjectID *string
	Status    *string
	Limit     *int
	Offset    *int
}

func bindListFileProcessesParams(w http.ResponseWriter, r *http.Request) (repository.ProcessFilter, int, int, bool) {
	var p ListFileProcessesParams
	if !bindAll(w, r,
		queryParam{"project_id", &p.ProjectID},
		queryParam{"status", &p.Status},
		queryParam{"limit", &p.Limit},
		queryParam{"offset", &p.Offset},
	) {
		return repository.ProcessFilter{}, 0, 0, false
	}

	f := repository.ProcessFilter{ProjectID: p.ProjectID}
	if p.Status != nil {
		st := model.ProcessStatus(*p.Status)
		if !st.IsValid() {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус процесса: %q", *p.Status))
			return repository.ProcessFilter{}, 0, 0, false
		}
		f.Status = &st
	}
	limit, offset := paginationDefaults(p.Limit, p.Offset)
	return f, limit, offset, true
}

// ListFileRequestsParams — параметры GET /file-requests.
type ListFileRequestsParams struct {
	UserID             *string
	FileProcessID      *openapi_types.UUID
	Status             *[]string
	VerificationStatus *string
	Limit              *int
	Offset             *int
}

func bindListFileRequestsParams(w http.ResponseWriter, r *http.Request) (repository.RequestFilter, int, int, bool) {
	var p ListFileRequestsParams
	if !bindAll(w, r,
		queryParam{"user_id", &p.UserID},
		queryParam{"file_process_id", &p.FileProcessID},
		queryParam{"status", &p.Status},
		queryParam{"verification_status", &p.VerificationStatus},
		queryParam{"limit", &p.Limit},
		queryParam{"offset", &p.Offset},
	) {
		return repository.RequestFilter{}, 0, 0, false
	}

	f := repository.RequestFilter{UserID: p.UserID}
	if p.FileProcessID != nil {
		id := p.FileProcessID.String()
		f.FileProcessID = &id
	}
	if p.Status != nil {
		for _, s := range *p.Status {
			st := model.RequestStatus(s)
			if !isRequestStatus(st) {
				apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус заявки: %q", s))
				return repository.RequestFilter{}, 0, 0, false
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if p.VerificationStatus != nil {
		vs := model.VerificationStatus(*p.VerificationStatus)
		if !vs.IsValid() {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый verification_status: %q", *p.VerificationStatus))
			return repository.RequestFilter{}, 0, 0, false
		}
		f.Verification = &vs
	}
	limit, offset := paginationDefaults(p.Limit, p.Offset)
	return f, limit, offset, true
}

// ListDailyCountsParams — параметры GET /daily-counts.
type ListDailyCountsParams struct {
	UserID    *string
	ProjectID *string
	Status    *string
	From      *openapi_types.Date
	To        *openapi_types.Date
}

func bindListDailyCountsParams(w http.ResponseWriter, r *http.Request) (repository.DailyCountFilter, bool) {
	var p ListDailyCountsParams
	if !bindAll(w, r,
		queryParam{"user_id", &p.UserID},
		queryParam{"project_id", &p.ProjectID},
		queryParam{"status", &p.Status},
		queryParam{"from", &p.From},
		queryParam{"to", &p.To},
	) {
		return repository.DailyCountFilter{}, false
	}

	f := repository.DailyCountFilter{UserID: p.UserID, ProjectID: p.ProjectID}
	if p.Status != nil {
		st := model.DailyCountStatus(*p.Status)
		if st != model.DailyCountApproved && st != model.DailyCountRejected {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус выработки: %q", *p.Status))
			return repository.DailyCountFilter{}, false
		}
		f.Status = &st
	}
	f.From = dateOnly(p.From)
	f.To = dateOnly(p.To)
	return f, true
}

// dateOnly переводит дату OpenAPI в полночь UTC.
func dateOnly(d *openapi_types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := model.DateOnly(d.Time)
	return &t
}

func isRequestStatus(s model.RequestStatus) bool {
	for _, st := range model.AllRequestStatuses {
		if st == s {
			return true
		}
	}
	return false
}
