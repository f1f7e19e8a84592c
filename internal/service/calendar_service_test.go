package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencije/coursework-api/internal/models"
	"github.com/evidencije/coursework-api/internal/policy"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/holiday"
)

type mockUpcomingLister struct {
	details []models.AssignmentDetail
}

func (m *mockUpcomingLister) ListUpcomingForStudent(ctx context.Context, studentID string, now time.Time) ([]models.AssignmentDetail, error) {
	return m.details, nil
}

func (m *mockUpcomingLister) ListUpcomingForProfessor(ctx context.Context, professorID string, now time.Time) ([]models.AssignmentDetail, error) {
	return m.details, nil
}

func (m *mockUpcomingLister) ListUpcomingAll(ctx context.Context, now time.Time) ([]models.AssignmentDetail, error) {
	return m.details, nil
}

type mockHolidayCache struct {
	mu      sync.Mutex
	entries map[string][]holiday.Holiday
	lastTTL time.Duration
}

func (m *mockHolidayCache) key(countryCode string, year int) string {
	return fmt.Sprintf("%s:%d", countryCode, year)
}

func (m *mockHolidayCache) Get(ctx context.Context, countryCode string, year int) ([]holiday.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holidays, ok := m.entries[m.key(countryCode, year)]; ok {
		return holidays, nil
	}
	return nil, appErrors.ErrCacheMiss
}

func (m *mockHolidayCache) Set(ctx context.Context, countryCode string, year int, holidays []holiday.Holiday, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]holiday.Holiday)
	}
	m.entries[m.key(countryCode, year)] = holidays
	m.lastTTL = ttl
}

type mockHolidayFetcher struct {
	calls    atomic.Int64
	delay    time.Duration
	err      error
	holidays []holiday.Holiday
}

func (m *mockHolidayFetcher) PublicHolidays(ctx context.Context, year int, countryCode string) ([]holiday.Holiday, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.holidays, nil
}

func fixedNow() time.Time {
	// A Wednesday.
	return time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)
}

func newCalendarFixture(cache *mockHolidayCache, fetcher *mockHolidayFetcher) *CalendarService {
	lister := &mockUpcomingLister{details: []models.AssignmentDetail{
		{
			Assignment:        models.Assignment{ID: "asg-1", Title: "Domaći 1", DueAt: fixedNow().Add(48 * time.Hour)},
			SubjectName:       "Programiranje 1",
			SubjectCode:       "P1",
			ProfessorFullName: "Petar Petrović",
		},
	}}
	svc := NewCalendarService(lister, cache, fetcher, CalendarOptions{
		CountryCode: "RS",
		YearsAhead:  1,
		CacheTTL:    12 * time.Hour,
	}, nil)
	svc.now = fixedNow
	return svc
}

func TestDeadlinesMergesInternalAndExternal(t *testing.T) {
	fetcher := &mockHolidayFetcher{holidays: []holiday.Holiday{
		{Date: "2025-03-08", LocalName: "Probni praznik", Name: "Test Holiday"},
	}}
	svc := newCalendarFixture(&mockHolidayCache{}, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	// One assignment plus the same holiday for both requested years.
	require.Len(t, feed.Events, 3)
	assert.Equal(t, "assignment-asg-1", feed.Events[0].ID)
	assert.Equal(t, "internal", feed.Events[0].Source)
	assert.Equal(t, "holiday-2025-03-08", feed.Events[1].ID)
	assert.Equal(t, "external_calendar", feed.Events[1].Source)
	assert.Equal(t, "Probni praznik", feed.Events[1].Title)
	assert.Equal(t, "Test Holiday", feed.Events[1].Description)
	assert.True(t, feed.Events[1].AllDay)
	assert.Equal(t, time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC), feed.Events[1].Start)
	assert.Equal(t, time.Date(2025, time.March, 8, 23, 59, 59, 0, time.UTC), feed.Events[1].End)

	assert.True(t, feed.Meta.ExternalCalendarConnected)
	assert.Equal(t, HolidayProvider, feed.Meta.ExternalCalendarProvider)
	assert.Equal(t, "2025-03-05", feed.Meta.Today.Date)
	assert.Equal(t, "Sreda", feed.Meta.Today.DayName)
}

func TestDeadlinesSortedByStart(t *testing.T) {
	fetcher := &mockHolidayFetcher{holidays: []holiday.Holiday{
		{Date: "2025-03-06", Name: "Early"},
		{Date: "2025-12-25", Name: "Late"},
	}}
	svc := newCalendarFixture(&mockHolidayCache{}, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)
	for i := 1; i < len(feed.Events); i++ {
		assert.False(t, feed.Events[i].Start.Before(feed.Events[i-1].Start))
	}
}

func TestDeadlinesDegradesWhenFeedIsDown(t *testing.T) {
	fetcher := &mockHolidayFetcher{err: fmt.Errorf("unexpected status 500")}
	svc := newCalendarFixture(&mockHolidayCache{}, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	require.Len(t, feed.Events, 1)
	assert.Equal(t, "internal", feed.Events[0].Source)
	// Connected reports that the external source is configured; a failing
	// fetch degrades the events but does not flip it.
	assert.True(t, feed.Meta.ExternalCalendarConnected)
}

func TestHolidayFetchFailureClassifiedAsUpstream(t *testing.T) {
	fetcher := &mockHolidayFetcher{err: fmt.Errorf("unexpected status 502")}
	svc := newCalendarFixture(&mockHolidayCache{}, fetcher)

	_, err := svc.holidaysForYear(context.Background(), 2025)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUpstreamUnavailable.Code, appErrors.FromError(err).Code)
}

func TestDeadlinesExcludesPastHolidays(t *testing.T) {
	fetcher := &mockHolidayFetcher{holidays: []holiday.Holiday{
		{Date: "2025-01-01", LocalName: "Nova godina", Name: "New Year"},
		{Date: "2025-03-05", LocalName: "Današnji praznik", Name: "Current Day"},
		{Date: "2025-11-11", LocalName: "Dan primirja", Name: "Armistice Day"},
	}}
	cache := &mockHolidayCache{entries: map[string][]holiday.Holiday{"RS:2026": {}}}
	svc := newCalendarFixture(cache, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	ids := make([]string, 0, len(feed.Events))
	for _, e := range feed.Events {
		ids = append(ids, e.ID)
	}
	// Fixture "today" is 2025-03-05; anything before its start of day is
	// dropped, while a holiday falling on the current day stays.
	assert.NotContains(t, ids, "holiday-2025-01-01")
	assert.Contains(t, ids, "holiday-2025-03-05")
	assert.Contains(t, ids, "holiday-2025-11-11")
}

func TestDeadlinesServedFromCacheSkipNetwork(t *testing.T) {
	cache := &mockHolidayCache{entries: map[string][]holiday.Holiday{
		"RS:2025": {{Date: "2025-04-18", LocalName: "Veliki petak", Name: "Good Friday"}},
		"RS:2026": {},
	}}
	fetcher := &mockHolidayFetcher{}
	svc := newCalendarFixture(cache, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	assert.Equal(t, int64(0), fetcher.calls.Load())
	assert.True(t, feed.Meta.ExternalCalendarConnected)
	require.Len(t, feed.Events, 2)
}

func TestDeadlinesPopulatesCacheAfterFetch(t *testing.T) {
	cache := &mockHolidayCache{}
	fetcher := &mockHolidayFetcher{holidays: []holiday.Holiday{{Date: "2025-01-01", Name: "New Year"}}}
	svc := newCalendarFixture(cache, fetcher)

	_, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Len(t, cache.entries, 2)
	assert.Equal(t, 12*time.Hour, cache.lastTTL)
}

func TestConcurrentMissesCollapseToOneFetch(t *testing.T) {
	fetcher := &mockHolidayFetcher{delay: 30 * time.Millisecond, holidays: []holiday.Holiday{{Date: "2025-01-01", Name: "New Year"}}}
	svc := newCalendarFixture(&mockHolidayCache{}, fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.holidaysForYear(context.Background(), 2025)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestDeadlinesWithoutCountryCodeStaysLocal(t *testing.T) {
	fetcher := &mockHolidayFetcher{}
	lister := &mockUpcomingLister{}
	svc := NewCalendarService(lister, &mockHolidayCache{}, fetcher, CalendarOptions{}, nil)
	svc.now = fixedNow

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "adm-1", Role: models.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, int64(0), fetcher.calls.Load())
	assert.Empty(t, feed.Events)
	assert.False(t, feed.Meta.ExternalCalendarConnected)
	assert.Equal(t, HolidayProvider, feed.Meta.ExternalCalendarProvider)
}

func TestHolidayTitleFallbacks(t *testing.T) {
	fetcher := &mockHolidayFetcher{holidays: []holiday.Holiday{
		{Date: "2025-05-01", LocalName: "", Name: "Labour Day"},
		{Date: "2025-05-02", LocalName: "", Name: ""},
	}}
	cache := &mockHolidayCache{entries: map[string][]holiday.Holiday{"RS:2026": {}}}
	svc := newCalendarFixture(cache, fetcher)

	feed, err := svc.Deadlines(context.Background(), policy.Principal{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	byID := make(map[string]models.DeadlineEvent)
	for _, e := range feed.Events {
		byID[e.ID] = e
	}
	assert.Equal(t, "Labour Day", byID["holiday-2025-05-01"].Title)
	assert.Equal(t, "Neradni dan", byID["holiday-2025-05-02"].Title)
	assert.Equal(t, "Državni praznik", byID["holiday-2025-05-02"].Description)
}
