package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"rtlab/internal/engine"
	"rtlab/internal/models"
	"rtlab/internal/reliability"
)

// latencyNote is shown on every results page: the offset is a model of
// queuing delay, and no attempt is made to equate neural transduction
// across stimulus modalities.
const latencyNote = "Corrected RTs subtract an estimated device latency " +
	"(half a frame period plus half a touch sampling period). This is a model, " +
	"not a measurement, and it does not compensate for neural-transduction " +
	"differences between visual, auditory and tactile stimuli."

// ResultsHandler renders chart pages for completed sessions.
type ResultsHandler struct {
	log   *zap.Logger
	store engine.Store
}

func NewResultsHandler(log *zap.Logger, store engine.Store) *ResultsHandler {
	return &ResultsHandler{log: log, store: store}
}

// ShowResults renders one session's corrected RTs by trial number, with
// excluded trials as their own series so the cleaning verdicts are visible
// at a glance.
func (h *ResultsHandler) ShowResults(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.String(http.StatusNotFound, "Unknown session")
		return
	}
	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to load trials for results", zap.String("session_id", sessionID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to load trials")
		return
	}

	page := components.NewPage()
	page.SetPageTitle("Session results")
	page.AddCharts(generateTrialChart(session, trials))

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(c.Writer); err != nil {
		h.log.Error("Failed to render results page", zap.Error(err))
	}
}

// ShowAgreement renders the Bland-Altman view for two sessions.
func (h *ResultsHandler) ShowAgreement(c *gin.Context) {
	first, err := h.sessionRTs(c, c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "Unknown session")
		return
	}
	second, err := h.sessionRTs(c, c.Param("other"))
	if err != nil {
		c.String(http.StatusNotFound, "Unknown session")
		return
	}
	if len(first) > len(second) {
		first = first[:len(second)]
	} else if len(second) > len(first) {
		second = second[:len(first)]
	}

	report, err := reliability.Analyze(first, second)
	if err != nil {
		c.String(http.StatusBadRequest, "Sessions do not have enough paired valid trials")
		return
	}

	page := components.NewPage()
	page.SetPageTitle("Agreement")
	page.AddCharts(generateAgreementChart(report))

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(c.Writer); err != nil {
		h.log.Error("Failed to render agreement page", zap.Error(err))
	}
}

func (h *ResultsHandler) sessionRTs(c *gin.Context, sessionID string) ([]float64, error) {
	if _, err := h.store.GetSession(c.Request.Context(), sessionID); err != nil {
		return nil, err
	}
	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	return ValidRTs(trials), nil
}

func generateTrialChart(session *models.Session, trials []models.TrialRecord) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Corrected reaction times (%s)", session.Config.Paradigm),
			Subtitle: latencyNote,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "value",
			Name: "trial",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:  "value",
			Name:  "RT (ms)",
			Scale: opts.Bool(true),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	valid := make([]opts.ScatterData, 0)
	excluded := make([]opts.ScatterData, 0)
	for _, t := range trials {
		if t.IsPractice || t.RTCorrected == nil {
			continue
		}
		point := opts.ScatterData{Value: []interface{}{t.TrialNumber, *t.RTCorrected}}
		if t.ExcludedFlag {
			excluded = append(excluded, point)
		} else {
			valid = append(valid, point)
		}
	}

	scatter.AddSeries("Valid", valid)
	scatter.AddSeries("Excluded", excluded)
	return scatter
}

func generateAgreementChart(report *reliability.Report) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Bland-Altman agreement",
			Subtitle: fmt.Sprintf("ICC %.3f · CV %.1f%% · SEM %.1f ms · %d/%d pairs outside limits",
				report.ICC, report.CVPercent, report.SEM, report.BlandAltman.Outside, report.Pairs),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type: "value",
			Name: "pair mean (ms)",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:  "value",
			Name:  "difference (ms)",
			Scale: opts.Bool(true),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	items := make([]opts.ScatterData, 0, len(report.BlandAltman.Points))
	for _, p := range report.BlandAltman.Points {
		items = append(items, opts.ScatterData{Value: []interface{}{p.Mean, p.Difference}})
	}

	scatter.AddSeries("Pairs", items).SetSeriesOptions(
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "Upper limit", YAxis: report.BlandAltman.UpperLimit},
			opts.MarkLineNameYAxisItem{Name: "Mean difference", YAxis: report.BlandAltman.MeanDifference},
			opts.MarkLineNameYAxisItem{Name: "Lower limit", YAxis: report.BlandAltman.LowerLimit},
		),
	)
	return scatter
}
