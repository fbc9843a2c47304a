package services

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/fluxcart/delta/pkg/models"
)

// AnalyticsService aggregates the engagement action log into
// click-through reports for operators tuning the scoring weights.
type AnalyticsService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewAnalyticsService(db DatabaseQuerier, logger *logrus.Logger) *AnalyticsService {
	return &AnalyticsService{db: db, logger: logger}
}

// ClickThroughReport summarizes engagement over a reporting window.
// ScoreClickCorrelation is the Pearson correlation between the
// composite score shown at impression time and whether the impression
// converted to a click; a healthy weight configuration keeps it
// positive.
type ClickThroughReport struct {
	From                  time.Time      `json:"from"`
	To                    time.Time      `json:"to"`
	Views                 int64          `json:"views"`
	Clicks                int64          `json:"clicks"`
	Visits                int64          `json:"visits"`
	ClickThroughRate      float64        `json:"click_through_rate"`
	MeanClickPosition     float64        `json:"mean_click_position"`
	ClickPositionStdDev   float64        `json:"click_position_std_dev"`
	ScoreClickCorrelation float64        `json:"score_click_correlation"`
	ByPosition            []PositionStat `json:"by_position"`
}

// PositionStat is the view/click breakdown for one page position.
type PositionStat struct {
	Position int     `json:"position"`
	Views    int64   `json:"views"`
	Clicks   int64   `json:"clicks"`
	Rate     float64 `json:"rate"`
}

type actionRow struct {
	action    models.ActionType
	position  int
	composite float64
	hasScore  bool
}

// ClickThrough builds the report for [from, to).
func (s *AnalyticsService) ClickThrough(ctx context.Context, from, to time.Time) (*ClickThroughReport, error) {
	query := `
		SELECT action, position_on_page,
		       COALESCE((score_snapshot->>'composite')::float8, 0),
		       score_snapshot IS NOT NULL
		FROM engagement_actions
		WHERE occurred_at >= $1 AND occurred_at < $2`

	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, models.NewUpstreamError("engagement log", err)
	}
	defer rows.Close()

	var observed []actionRow
	for rows.Next() {
		var r actionRow
		var action string
		if err := rows.Scan(&action, &r.position, &r.composite, &r.hasScore); err != nil {
			return nil, models.NewUpstreamError("engagement log", err)
		}
		r.action = models.ActionType(action)
		observed = append(observed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("engagement log", err)
	}

	return buildClickThroughReport(from, to, observed), nil
}

func buildClickThroughReport(from, to time.Time, observed []actionRow) *ClickThroughReport {
	report := &ClickThroughReport{From: from, To: to}

	byPosition := make(map[int]*PositionStat)
	var clickPositions []float64
	var scores, clicked []float64

	for _, r := range observed {
		switch r.action {
		case models.ActionView:
			report.Views++
		case models.ActionClick:
			report.Clicks++
			clickPositions = append(clickPositions, float64(r.position))
		case models.ActionVisit:
			report.Visits++
			continue
		}

		if r.position > 0 {
			ps, ok := byPosition[r.position]
			if !ok {
				ps = &PositionStat{Position: r.position}
				byPosition[r.position] = ps
			}
			if r.action == models.ActionView {
				ps.Views++
			} else {
				ps.Clicks++
			}
		}

		if r.hasScore {
			scores = append(scores, r.composite)
			if r.action == models.ActionClick {
				clicked = append(clicked, 1)
			} else {
				clicked = append(clicked, 0)
			}
		}
	}

	if report.Views > 0 {
		report.ClickThroughRate = float64(report.Clicks) / float64(report.Views)
	}
	if len(clickPositions) > 0 {
		report.MeanClickPosition = stat.Mean(clickPositions, nil)
		if len(clickPositions) > 1 {
			report.ClickPositionStdDev = stat.StdDev(clickPositions, nil)
		}
	}
	if len(scores) > 1 {
		report.ScoreClickCorrelation = stat.Correlation(scores, clicked, nil)
	}

	positions := make([]int, 0, len(byPosition))
	for p := range byPosition {
		positions = append(positions, p)
	}
	sort.Ints(positions)
	for _, p := range positions {
		ps := byPosition[p]
		if ps.Views > 0 {
			ps.Rate = float64(ps.Clicks) / float64(ps.Views)
		}
		report.ByPosition = append(report.ByPosition, *ps)
	}

	return report
}
