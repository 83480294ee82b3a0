package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/limits"
	"github.com/DrkMatr1984/GlobalMarket/internal/model"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

// API exposes the market over HTTP.
type API struct {
	market *Market
}

// NewAPI creates the HTTP surface for a market.
func NewAPI(m *Market) *API {
	return &API{market: m}
}

// defaultPageSize matches one interface page of listings.
const defaultPageSize = 45

// --- Request/Response types ---

// CreateListingRequest is the JSON body for POST /listings.
type CreateListingRequest struct {
	Seller string          `json:"seller"`
	Item   model.Item      `json:"item"`
	Price  decimal.Decimal `json:"price"`
	Region string          `json:"region"`
}

// SendMailRequest is the JSON body for POST /mail.
type SendMailRequest struct {
	Owner  string          `json:"owner"`
	Sender string          `json:"sender"`
	Item   model.Item      `json:"item"`
	Pickup decimal.Decimal `json:"pickup"`
	Region string          `json:"region"`
}

// BuyRequest is the JSON body for POST /listings/{listingID}/buy.
type BuyRequest struct {
	Buyer string `json:"buyer"`
}

// ListingView is a listing joined with its item payload. GroupSize is
// how many sibling listings the entry stands for in the condensed view.
type ListingView struct {
	model.Listing
	Item      *model.Item `json:"item,omitempty"`
	GroupSize int         `json:"group_size"`
}

// ListingsResponse is one page of the market view.
type ListingsResponse struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	Listings []ListingView `json:"listings"`
}

// MailView is a mail record joined with its item payload.
type MailView struct {
	model.Mail
	Item *model.Item `json:"item,omitempty"`
}

func (a *API) listingView(l model.Listing) ListingView {
	v := ListingView{Listing: l, GroupSize: a.market.GroupSize(l.ID)}
	if it, err := a.market.Registry().Resolve(l.ItemID, l.Amount); err == nil {
		v.Item = &it
	}
	return v
}

func (a *API) listingViews(list []model.Listing) []ListingView {
	views := make([]ListingView, 0, len(list))
	for _, l := range list {
		views = append(views, a.listingView(l))
	}
	return views
}

func (a *API) mailViews(list []model.Mail) []MailView {
	views := make([]MailView, 0, len(list))
	for _, m := range list {
		v := MailView{Mail: m}
		if it, err := a.market.Registry().Resolve(m.ItemID, m.Amount); err == nil {
			v.Item = &it
		}
		views = append(views, v)
	}
	return views
}

// --- HTTP Handlers ---

// CreateListing handles POST /api/v1/listings
func (a *API) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Seller == "" {
		writeError(w, "seller is required", http.StatusBadRequest)
		return
	}

	l, err := a.market.CreateListing(req.Seller, req.Item, req.Price, req.Region)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	slog.Info("listing created",
		"id", l.ID,
		"seller", l.Seller,
		"price", l.Price.String(),
		"region", l.Region,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a.listingView(l))
}

// ListListings handles GET /api/v1/listings
// Query: region, sort (price_asc|price_desc|amount_desc), page, page_size.
func (a *API) ListListings(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	sortBy := model.ParseSort(r.URL.Query().Get("sort"))
	page, pageSize := pageParams(r)

	list := a.market.Listings(sortBy, page, pageSize, region)
	resp := ListingsResponse{
		Total:    a.market.ListingCount(region),
		Page:     page,
		Listings: a.listingViews(list),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SearchListings handles GET /api/v1/listings/search
// Query: q plus the same parameters as ListListings.
func (a *API) SearchListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, "q is required", http.StatusBadRequest)
		return
	}
	region := r.URL.Query().Get("region")
	sortBy := model.ParseSort(r.URL.Query().Get("sort"))
	page, pageSize := pageParams(r)

	total, list := a.market.Search(query, sortBy, page, pageSize, region)
	resp := ListingsResponse{
		Total:    total,
		Page:     page,
		Listings: a.listingViews(list),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetListing handles GET /api/v1/listings/{listingID}
func (a *API) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, "invalid listing id", http.StatusBadRequest)
		return
	}

	l, err := a.market.GetListing(id)
	if err != nil {
		writeError(w, "listing not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.listingView(l))
}

// CancelListing handles DELETE /api/v1/listings/{listingID}
// The item stack is mailed back to the seller.
func (a *API) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, "invalid listing id", http.StatusBadRequest)
		return
	}

	if err := a.market.CancelListing(id); err != nil {
		writeMarketError(w, err)
		return
	}
	slog.Info("listing cancelled", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Buy handles POST /api/v1/listings/{listingID}/buy
func (a *API) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, "invalid listing id", http.StatusBadRequest)
		return
	}
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Buyer == "" {
		writeError(w, "buyer is required", http.StatusBadRequest)
		return
	}

	sale, err := a.market.Buy(id, req.Buyer)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	slog.Info("listing sold",
		"id", id,
		"seller", sale.Listing.Seller,
		"buyer", sale.Buyer,
		"price", sale.Price.String(),
	)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sale)
}

// OwnedListings handles GET /api/v1/players/{player}/listings
func (a *API) OwnedListings(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	region := r.URL.Query().Get("region")
	page, pageSize := pageParams(r)

	list := a.market.OwnedListings(player, page, pageSize, region)
	resp := ListingsResponse{
		Total:    a.market.OwnedCount(player, region),
		Page:     page,
		Listings: a.listingViews(list),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SendMail handles POST /api/v1/mail
func (a *API) SendMail(w http.ResponseWriter, r *http.Request) {
	var req SendMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	m, err := a.market.SendMail(req.Owner, req.Sender, req.Item, req.Pickup, req.Region)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// ListMail handles GET /api/v1/players/{player}/mail
func (a *API) ListMail(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	region := r.URL.Query().Get("region")
	page, pageSize := pageParams(r)

	list := a.market.MailFor(player, page, pageSize, region)
	resp := struct {
		Total int        `json:"total"`
		Page  int        `json:"page"`
		Mail  []MailView `json:"mail"`
	}{
		Total: a.market.MailCount(player, region),
		Page:  page,
		Mail:  a.mailViews(list),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MailCount handles GET /api/v1/players/{player}/mail/count
func (a *API) MailCount(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	region := r.URL.Query().Get("region")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"count": a.market.MailCount(player, region)})
}

// ClaimMail handles POST /api/v1/mail/{mailID}/claim
func (a *API) ClaimMail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "mailID"))
	if err != nil {
		writeError(w, "invalid mail id", http.StatusBadRequest)
		return
	}

	c, err := a.market.ClaimMail(id)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	slog.Info("mail claimed", "id", id, "pickup", c.Pickup.String())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// ClearMailPickup handles POST /api/v1/mail/{mailID}/clear-pickup
// Used when crediting the payout fails; the mail stays claimable with a
// zero amount.
func (a *API) ClearMailPickup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "mailID"))
	if err != nil {
		writeError(w, "invalid mail id", http.StatusBadRequest)
		return
	}

	if err := a.market.ClearPickupValue(id); err != nil {
		writeMarketError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/v1/players/{player}/history
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")

	entries, err := a.market.History(r.Context(), player)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Totals handles GET /api/v1/players/{player}/totals
func (a *API) Totals(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")

	t, err := a.market.Totals(r.Context(), player)
	if err != nil {
		writeError(w, "failed to load totals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(t)
}

// pageParams reads page and page_size query parameters with defaults.
func pageParams(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= 500 {
		pageSize = v
	}
	return page, pageSize
}

// writeMarketError maps facade errors onto HTTP statuses.
func writeMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrOwnListing),
		errors.Is(err, limits.ErrSellerLimitExceeded),
		errors.Is(err, limits.ErrRegionLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
