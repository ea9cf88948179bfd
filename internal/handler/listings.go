package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/repository"
	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/internal/service"
	"listing-snapshot-api/internal/sku"
	"listing-snapshot-api/pkg/apierror"
	"listing-snapshot-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ListingHandler handles snapshot HTTP requests.
type ListingHandler struct {
	listingService *service.ListingService
	log            *zap.Logger
}

// NewListingHandler creates a new listing handler.
func NewListingHandler(listingService *service.ListingService, log *zap.Logger) *ListingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingHandler{
		listingService: listingService,
		log:            log.Named("handler.listing"),
	}
}

// SaveSnapshot handles POST /api/v1/listings
func (h *ListingHandler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSnapshotRequest
	if err := decodeBody(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if errs := validateSnapshotRequest(&req); len(errs) > 0 {
		response.Error(w, apierror.ValidationError("invalid snapshot", errs...))
		return
	}

	snapshot, err := h.listingService.SaveSnapshot(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	response.Created(w, map[string]string{"id": snapshot.ID})
}

// ListSnapshots handles GET /api/v1/listings?page=&limit=&order=
func (h *ListingHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repository.ListOptions{Order: q.Get("order")}

	var err error
	if opts.Page, err = intParam(q.Get("page"), 1); err != nil || opts.Page < 1 {
		response.Error(w, apierror.BadRequest("page must be a positive integer"))
		return
	}
	if opts.Limit, err = intParam(q.Get("limit"), repository.DefaultPageLimit); err != nil || opts.Limit < 1 {
		response.Error(w, apierror.BadRequest("limit must be a positive integer"))
		return
	}
	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		response.Error(w, apierror.BadRequest("order must be asc or desc"))
		return
	}
	opts = opts.Normalize()

	snapshots, total, err := h.listingService.ListSnapshots(r.Context(), opts)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if snapshots == nil {
		snapshots = []model.Snapshot{}
	}

	response.JSONWithMeta(w, http.StatusOK, snapshots, opts.Page, opts.Limit, total)
}

// GetSnapshot handles GET /api/v1/listings/{sku}
func (h *ListingHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.listingService.GetSnapshot(r.Context(), skuParam(r))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if snapshot.Listings == nil {
		snapshot.Listings = []model.Listing{}
	}
	response.OK(w, snapshot)
}

// refreshBody is the optional body of a refresh request.
type refreshBody struct {
	DelayMS  *int64 `json:"delay_ms"`
	Priority int    `json:"priority"`
	Replace  *bool  `json:"replace"`
}

// RequestRefresh handles POST /api/v1/listings/{sku}/refresh
//
// The delay may also be given as ?delay=<ms>. Replace defaults to true.
func (h *ListingHandler) RequestRefresh(w http.ResponseWriter, r *http.Request) {
	skuText := skuParam(r)
	if !sku.IsValid(skuText) {
		response.Error(w, apierror.BadRequest("Invalid SKU"))
		return
	}

	var body refreshBody
	if err := decodeOptionalBody(r, &body); err != nil {
		response.Error(w, err)
		return
	}
	if body.DelayMS == nil {
		if raw := r.URL.Query().Get("delay"); raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				response.Error(w, apierror.BadRequest("delay must be an integer"))
				return
			}
			body.DelayMS = &ms
		}
	}

	opts := scheduler.Options{Priority: body.Priority, Replace: true}
	if body.Replace != nil {
		opts.Replace = *body.Replace
	}
	if body.DelayMS != nil {
		delay := time.Duration(*body.DelayMS) * time.Millisecond
		opts.Delay = &delay
	}

	res, err := h.listingService.RequestRefresh(r.Context(), skuText, opts)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	status := http.StatusOK
	if res.Enqueued {
		status = http.StatusCreated
	}
	response.JSON(w, status, res)
}

// ResolveName handles GET /api/v1/names/{sku}
func (h *ListingHandler) ResolveName(w http.ResponseWriter, r *http.Request) {
	skuText := skuParam(r)
	name, err := h.listingService.ResolveName(r.Context(), skuText)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	response.OK(w, map[string]string{"sku": skuText, "name": name})
}

// skuParam returns the {sku} path segment, percent-decoded.
func skuParam(r *http.Request) string {
	raw := chi.URLParam(r, "sku")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierror.BadRequest("request body too large")
		}
		return nil, apierror.BadRequest("failed to read request body")
	}
	return body, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, out interface{}) error {
	body, err := readBody(r)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apierror.BadRequest("invalid JSON")
	}
	return nil
}
