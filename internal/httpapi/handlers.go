package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fxreport/internal/analysis"
	"fxreport/internal/rates"
	"fxreport/internal/report"
	"fxreport/internal/storage"
)

const maxLimit = 1000

type handler struct {
	store storage.RateStore
	base  string
}

type rateResponse struct {
	Base     string `json:"base"`
	Date     string `json:"date"`
	Currency string `json:"currency"`
	Rate     string `json:"rate"`
}

type deviationResponse struct {
	Currency          string `json:"currency"`
	CurrentDate       string `json:"current_date"`
	MaxDeviationDate  string `json:"max_deviation_date"`
	MaxDeviationValue string `json:"max_deviation_value"`
}

// listRates serves GET /api/v1/rates?currency=EUR&limit=N.
func (h *handler) listRates(c *gin.Context) {
	currency := rates.NormalizeCode(c.Query("currency"))
	if currency != "" && !rates.ValidCode(currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency must be a three-letter code"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	records, err := h.store.ListRecent(c.Request.Context(), currency, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]rateResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, rateResponse{
			Base:     rec.Base,
			Date:     rates.FormatDate(rec.Date),
			Currency: rec.Currency,
			Rate:     rec.Rate.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// deviations serves GET /api/v1/deviations?date=YYYY-MM-DD[&format=csv].
func (h *handler) deviations(c *gin.Context) {
	date, err := rates.ParseDate(c.DefaultQuery("date", rates.FormatDate(time.Now())))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
		return
	}

	history, err := h.store.ReadAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	results := analysis.Analyze(history, date, analysis.Options{Base: h.base})

	if c.Query("format") == "csv" {
		data, err := report.Encode(results)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
		return
	}

	resp := make([]deviationResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, deviationResponse{
			Currency:          res.Currency,
			CurrentDate:       rates.FormatDate(res.CurrentDate),
			MaxDeviationDate:  rates.FormatDate(res.MaxDeviationDate),
			MaxDeviationValue: res.MaxDeviationValue.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}
