package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/holiday"
)

// HolidayProvider is the name reported in the feed metadata.
const HolidayProvider = "nager_date_public_holidays"

type upcomingAssignmentLister interface {
	ListUpcomingForStudent(ctx context.Context, studentID string, now time.Time) ([]models.AssignmentDetail, error)
	ListUpcomingForProfessor(ctx context.Context, professorID string, now time.Time) ([]models.AssignmentDetail, error)
	ListUpcomingAll(ctx context.Context, now time.Time) ([]models.AssignmentDetail, error)
}

type holidayCache interface {
	Get(ctx context.Context, countryCode string, year int) ([]holiday.Holiday, error)
	Set(ctx context.Context, countryCode string, year int, holidays []holiday.Holiday, ttl time.Duration)
}

type holidayFetcher interface {
	PublicHolidays(ctx context.Context, year int, countryCode string) ([]holiday.Holiday, error)
}

var serbianDayNames = map[time.Weekday]string{
	time.Monday:    "Ponedeljak",
	time.Tuesday:   "Utorak",
	time.Wednesday: "Sreda",
	time.Thursday:  "Četvrtak",
	time.Friday:    "Petak",
	time.Saturday:  "Subota",
	time.Sunday:    "Nedelja",
}

// CalendarOptions tunes the external holiday source. A blank country code
// disables it.
type CalendarOptions struct {
	CountryCode  string
	YearsAhead   int
	CacheTTL     time.Duration
	FetchTimeout time.Duration
}

// CalendarService merges upcoming assignment deadlines with public holidays
// from an external feed. The external side is best effort: cache first, a
// bounded fetch on miss, and an empty holiday set when the feed is down.
type CalendarService struct {
	assignments upcomingAssignmentLister
	cache       holidayCache
	client      holidayFetcher
	opts        CalendarOptions
	group       singleflight.Group
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewCalendarService constructs CalendarService. Cache and client may be nil;
// the feed then drops the external source.
func NewCalendarService(assignments upcomingAssignmentLister, cache holidayCache, client holidayFetcher, opts CalendarOptions, logger *zap.Logger) *CalendarService {
	if opts.YearsAhead < 1 {
		opts.YearsAhead = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 12 * time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{
		assignments: assignments,
		cache:       cache,
		client:      client,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// WithMetrics attaches instrumentation for cache lookups and upstream
// fetches. Nil is fine; recording is then a no-op.
func (s *CalendarService) WithMetrics(metrics *MetricsService) *CalendarService {
	s.metrics = metrics
	return s
}

// Deadlines returns the merged feed for the acting principal: their upcoming
// assignment deadlines scoped by role, followed by public holidays. Holiday
// problems never fail the request.
func (s *CalendarService) Deadlines(ctx context.Context, actor policy.Principal) (*models.DeadlineFeed, error) {
	now := s.now().UTC()

	var (
		details []models.AssignmentDetail
		err     error
	)
	switch actor.Role {
	case models.RoleStudent:
		details, err = s.assignments.ListUpcomingForStudent(ctx, actor.ID, now)
	case models.RoleProfessor:
		details, err = s.assignments.ListUpcomingForProfessor(ctx, actor.ID, now)
	default:
		details, err = s.assignments.ListUpcomingAll(ctx, now)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upcoming deadlines")
	}

	events := make([]models.DeadlineEvent, 0, len(details))
	for _, d := range details {
		events = append(events, models.DeadlineEvent{
			ID:          fmt.Sprintf("assignment-%s", d.ID),
			Source:      models.EventSourceInternal,
			Title:       d.Title,
			Description: d.Description,
			Start:       d.DueAt,
			End:         d.DueAt,
			AllDay:      false,
			Subject:     d.SubjectName,
			SubjectCode: d.SubjectCode,
			Professor:   d.ProfessorFullName,
		})
	}

	// Connected reflects configuration, not the health of the last fetch;
	// a degraded upstream still counts as connected.
	connected := s.externalEnabled()
	if connected {
		todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		for _, h := range s.holidaysForRange(ctx, now.Year()) {
			day, err := time.Parse("2006-01-02", h.Date)
			if err != nil {
				s.logger.Warn("skipping holiday with malformed date", zap.String("date", h.Date))
				continue
			}
			if day.Before(todayStart) {
				continue
			}
			title := h.LocalName
			if title == "" {
				title = h.Name
			}
			if title == "" {
				title = "Neradni dan"
			}
			description := h.Name
			if description == "" {
				description = "Državni praznik"
			}
			events = append(events, models.DeadlineEvent{
				ID:          fmt.Sprintf("holiday-%s", h.Date),
				Source:      models.EventSourceExternal,
				Title:       title,
				Description: description,
				Start:       day,
				End:         day.Add(24*time.Hour - time.Second),
				AllDay:      true,
			})
		}
	}

	// Stable so that an internal deadline and a holiday sharing an instant
	// keep the internal entry first.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	return &models.DeadlineFeed{
		Events: events,
		Meta: models.DeadlineMeta{
			ExternalCalendarProvider:  HolidayProvider,
			ExternalCalendarConnected: connected,
			Today: models.DeadlineToday{
				Date:    now.Format("2006-01-02"),
				DayName: serbianDayNames[now.Weekday()],
			},
		},
	}, nil
}

func (s *CalendarService) externalEnabled() bool {
	return s.opts.CountryCode != "" && s.client != nil
}

// holidaysForRange collects the configured span of years. A year that fails
// to resolve is logged and skipped, so the feed degrades instead of erroring.
func (s *CalendarService) holidaysForRange(ctx context.Context, startYear int) []holiday.Holiday {
	var all []holiday.Holiday
	for offset := 0; offset <= s.opts.YearsAhead; offset++ {
		holidays, err := s.holidaysForYear(ctx, startYear+offset)
		if err != nil {
			s.logger.Warn("holiday feed unavailable",
				zap.Int("year", startYear+offset),
				zap.String("country", s.opts.CountryCode),
				zap.Error(err))
			continue
		}
		all = append(all, holidays...)
	}
	return all
}

// holidaysForYear serves one year from cache, with concurrent misses for the
// same (country, year) collapsed into a single upstream fetch.
func (s *CalendarService) holidaysForYear(ctx context.Context, year int) ([]holiday.Holiday, error) {
	if s.cache != nil {
		holidays, err := s.cache.Get(ctx, s.opts.CountryCode, year)
		if err == nil {
			s.metrics.RecordHolidayCacheLookup(true)
			return holidays, nil
		}
		s.metrics.RecordHolidayCacheLookup(false)
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("holiday cache read failed", zap.Int("year", year), zap.Error(err))
		}
	}

	key := fmt.Sprintf("%s:%d", s.opts.CountryCode, year)
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()

		started := time.Now()
		holidays, err := s.client.PublicHolidays(fetchCtx, year, s.opts.CountryCode)
		s.metrics.ObserveHolidayFetch(err == nil, time.Since(started))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, appErrors.ErrUpstreamUnavailable.Message)
		}
		if s.cache != nil {
			s.cache.Set(ctx, s.opts.CountryCode, year, holidays, s.opts.CacheTTL)
		}
		return holidays, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]holiday.Holiday), nil
}
