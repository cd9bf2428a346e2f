// dto.go — JSON-представления запросов и ответов API.
// Имена полей соответствуют схемам openapi.yaml.
package handlers

import (
	"time"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/service"
)

// --- Файловые процессы ---

type createFileProcessRequest struct {
	Name        string `json:"name"`
	ProjectID   string `json:"project_id"`
	Type        string `json:"type,omitempty"`
	HeaderRows  int    `json:"header_rows"`
	DailyTarget *int   `json:"daily_target,omitempty"`
}

type processStatusRequest struct {
	Status string `json:"status"`
}

type fileProcessResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ProjectID      string    `json:"project_id"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	SourceFileName *string   `json:"source_file_name"`
	SourceSize     int64     `json:"source_size"`
	SourceChecksum *string   `json:"source_checksum"`
	HeaderRows     int       `json:"header_rows"`
	TotalRows      int64     `json:"total_rows"`
	ProcessedRows  int64     `json:"processed_rows"`
	AvailableRows  int64     `json:"available_rows"`
	DailyTarget    *int      `json:"daily_target"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type fileProcessListResponse struct {
	Items  []fileProcessResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func toFileProcessResponse(p *model.FileProcess) fileProcessResponse {
	return fileProcessResponse{
		ID:             p.ID,
		Name:           p.Name,
		ProjectID:      p.ProjectID,
		Type:           string(p.Type),
		Status:         string(p.Status),
		SourceFileName: p.SourceFileName,
		SourceSize:     p.SourceSize,
		SourceChecksum: p.SourceChecksum,
		HeaderRows:     p.HeaderRows,
		TotalRows:      p.TotalRows,
		ProcessedRows:  p.ProcessedRows,
		AvailableRows:  p.AvailableRows,
		DailyTarget:    p.DailyTarget,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// --- Заявки ---

type createFileRequestRequest struct {
	UserID         string  `json:"user_id"`
	FileProcessID  string  `json:"file_process_id"`
	RequestedCount int64   `json:"requested_count"`
	Notes          *string `json:"notes,omitempty"`
}

type approveRequest struct {
	AssignedCount int64  `json:"assigned_count"`
	ProcessID     string `json:"process_id"`
	AssignedBy    string `json:"assigned_by,omitempty"`
}

type requestStatusRequest struct {
	Status string `json:"status"`
}

type updateFileRequestRequest struct {
	Status             *string `json:"status,omitempty"`
	Notes              *string `json:"notes,omitempty"`
	VerificationStatus *string `json:"verification_status,omitempty"`
	VerificationNotes  *string `json:"verification_notes,omitempty"`
	ClearCompletedAt   bool    `json:"clear_completed_at,omitempty"`
}

type verifyRequest struct {
	Action string  `json:"action"`
	Notes  *string `json:"notes,omitempty"`
}

type artifactResponse struct {
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	Entries    int       `json:"entries"`
	UploadedAt time.Time `json:"uploaded_at"`
	Notes      *string   `json:"notes"`
}

type fileRequestResponse struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	FileProcessID      string            `json:"file_process_id"`
	ProjectID          string            `json:"project_id"`
	RequestedCount     int64             `json:"requested_count"`
	AssignedCount      int64             `json:"assigned_count"`
	StartRow           int64             `json:"start_row"`
	EndRow             int64             `json:"end_row"`
	Status             string            `json:"status"`
	AssignedBy         *string           `json:"assigned_by"`
	AssignedAt         *time.Time        `json:"assigned_at"`
	DownloadLink       *string           `json:"download_link"`
	FirstDownloadedAt  *time.Time        `json:"first_downloaded_at"`
	Artifact           *artifactResponse `json:"artifact"`
	CompletedAt        *time.Time        `json:"completed_at"`
	VerificationStatus string            `json:"verification_status"`
	VerifiedBy         *string           `json:"verified_by"`
	VerifiedAt         *time.Time        `json:"verified_at"`
	VerificationNotes  *string           `json:"verification_notes"`
	ReworkCount        int               `json:"rework_count"`
	Notes              *string           `json:"notes"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type fileRequestListResponse struct {
	Items  []fileRequestResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func toFileRequestResponse(req *model.FileRequest) fileRequestResponse {
	resp := fileRequestResponse{
		ID:                 req.ID,
		UserID:             req.UserID,
		FileProcessID:      req.FileProcessID,
		ProjectID:          req.ProjectID,
		RequestedCount:     req.RequestedCount,
		AssignedCount:      req.AssignedCount,
		StartRow:           req.StartRow,
		EndRow:             req.EndRow,
		Status:             string(req.Status),
		AssignedBy:         req.AssignedBy,
		AssignedAt:         req.AssignedAt,
		DownloadLink:       req.DownloadLink,
		FirstDownloadedAt:  req.FirstDownloadedAt,
		CompletedAt:        req.CompletedAt,
		VerificationStatus: string(req.VerificationStatus),
		VerifiedBy:         req.VerifiedBy,
		VerifiedAt:         req.VerifiedAt,
		VerificationNotes:  req.VerificationNotes,
		ReworkCount:        req.ReworkCount,
		Notes:              req.Notes,
		CreatedAt:          req.CreatedAt,
		UpdatedAt:          req.UpdatedAt,
	}
	if a := req.Artifact; a != nil {
		resp.Artifact = &artifactResponse{
			FileName:   a.FileName,
			Size:       a.Size,
			Checksum:   a.Checksum,
			Entries:    a.Entries,
			UploadedAt: a.UploadedAt,
			Notes:      a.Notes,
		}
	}
	return resp
}

// --- Дневная выработка ---

type dailyCountResponse struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ProjectID      string `json:"project_id"`
	CountDate      string `json:"count_date"`
	Status         string `json:"status"`
	SubmittedCount int64  `json:"submitted_count"`
	RequestCount   int    `json:"request_count"`
}

type dailyCountTotals struct {
	ApprovedSubmitted int64 `json:"approved_submitted"`
	ApprovedRequests  int   `json:"approved_requests"`
	RejectedSubmitted int64 `json:"rejected_submitted"`
	RejectedRequests  int   `json:"rejected_requests"`
}

type dailyCountListResponse struct {
	Items  []dailyCountResponse `json:"items"`
	Totals dailyCountTotals     `json:"totals"`
}

type syncRequest struct {
	UserID string `json:"user_id"`
}

type syncResponse struct {
	UserID    string `json:"user_id"`
	Removed   int64  `json:"removed"`
	Rows      int    `json:"rows"`
	Requests  int    `json:"requests"`
	Submitted int64  `json:"submitted"`
}

func toDailyCountListResponse(rep *service.DailyCountReport) dailyCountListResponse {
	resp := dailyCountListResponse{
		Items: make([]dailyCountResponse, 0, len(rep.Items)),
		Totals: dailyCountTotals{
			ApprovedSubmitted: rep.ApprovedSubmitted,
			ApprovedRequests:  rep.ApprovedRequests,
			RejectedSubmitted: rep.RejectedSubmitted,
			RejectedRequests:  rep.RejectedRequests,
		},
	}
	for _, dc := range rep.Items {
		resp.Items = append(resp.Items, dailyCountResponse{
			ID:             dc.ID,
			UserID:         dc.UserID,
			ProjectID:      dc.ProjectID,
			CountDate:      dc.CountDate.Format(time.DateOnly),
			Status:         string(dc.Status),
			SubmittedCount: dc.SubmittedCount,
			RequestCount:   dc.RequestCount,
		})
	}
	return resp
}
