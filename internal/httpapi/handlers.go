package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/service"
)

const (
	defaultSalesLimit = 50
	maxSalesLimit     = 500
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProductFilter{
		Search:         q.Get("q"),
		Type:           strings.TrimSpace(q.Get("type")),
		HideOutOfStock: parseBool(q.Get("hide_out_of_stock")),
		HideLowStock:   parseBool(q.Get("hide_low_stock")),
		Sort:           domain.ProductSort(strings.ToLower(strings.TrimSpace(q.Get("sort")))),
		Descending:     strings.EqualFold(strings.TrimSpace(q.Get("order")), "desc"),
	}

	products, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.QuantityAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AdjustQuantity(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := parseOffset(q.Get("offset"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		ProductID: q.Get("product_id"),
		Limit:     parsePositiveLimit(q.Get("limit"), defaultSalesLimit, maxSalesLimit),
		Offset:    offset,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

// handleRecordSale accepts the idempotency key in the body or in the
// Idempotency-Key header. A replay answers 200 with the original sale.
func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.RecordSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReverseSale(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ReverseSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleExportSales(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = service.ExportCSV
	}

	var buf bytes.Buffer
	contentType, err := a.service.ExportSales(r.Context(), format, &buf)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("sales-%s.%s", time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := a.service.ListFolders(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (a *API) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req domain.FolderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	folder, err := a.service.CreateFolder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"folder": folder})
}

func (a *API) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	var req domain.FolderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	folder, err := a.service.UpdateFolder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folder": folder})
}

func (a *API) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteFolder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	links, err := a.service.ListLinks(r.Context(), domain.LinkFilter{
		FolderID:      q.Get("folder_id"),
		Uncategorized: parseBool(q.Get("uncategorized")),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (a *API) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	link, err := a.service.CreateLink(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"link": link})
}

func (a *API) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	link, err := a.service.UpdateLink(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (a *API) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteLink(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := a.service.ListNotes(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (a *API) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req domain.NoteRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	note, err := a.service.CreateNote(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"note": note})
}

func (a *API) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req domain.NoteRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	note, err := a.service.UpdateNote(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (a *API) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.service.GetProfile(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := a.service.UpdateProfile(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

// handleUpload takes a multipart form with a "file" part and an optional
// "folder" field.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.uploadMaxBytes+(64<<10))
	if err := r.ParseMultipartForm(a.uploadMaxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", a.uploadMaxBytes))
			return
		}
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.uploadMaxBytes+1))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if int64(len(data)) > a.uploadMaxBytes {
		a.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", a.uploadMaxBytes))
		return
	}

	upload, err := a.service.UploadImage(r.Context(), r.FormValue("folder"), data)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

func (a *API) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteUpload(r.Context(), r.URL.Query().Get("url")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.ReconcileForCaller(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleScheduleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := a.service.ScheduleReconcile(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}
