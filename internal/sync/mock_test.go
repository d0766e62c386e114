package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

// --- Mock change source -------------------------------------------------------

// sourcePage is one delta page served by the mock source.
type sourcePage struct {
	events   []model.Event
	nextSync string
}

type mockSource struct {
	mu         sync.Mutex
	pages      []sourcePage
	probeToken string
	probeCalls int
	pullCalls  int

	// failWith, when set, is returned by every Changes call.
	failWith error
}

func newMockSource(probeToken string, pages ...sourcePage) *mockSource {
	return &mockSource{probeToken: probeToken, pages: pages}
}

func (m *mockSource) ProbeSyncToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls++
	return m.probeToken, nil
}

func (m *mockSource) Changes(_ context.Context, _, pageToken string) ([]model.Event, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullCalls++

	if m.failWith != nil {
		return nil, "", "", m.failWith
	}

	idx := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page-%d", &idx); err != nil {
			return nil, "", "", fmt.Errorf("bad page token %q", pageToken)
		}
	}
	if idx >= len(m.pages) {
		return nil, "", "", fmt.Errorf("page index %d out of range", idx)
	}

	page := m.pages[idx]
	nextPage := ""
	if idx < len(m.pages)-1 {
		nextPage = fmt.Sprintf("page-%d", idx+1)
	}
	return page.events, nextPage, page.nextSync, nil
}

// --- Mock job client ----------------------------------------------------------

type mockJobs struct {
	mu      sync.Mutex
	nextID  int
	jobs    map[string]model.JobSpec // jobID → latest spec
	created []string

	customerID string
	employees  map[string]string // email → id

	createErr error
	updateErr error // returned once per UpdateJob call when set
	cancelErr error

	cancelCalls []string
	updateCalls []string

	// createBarrier, when non-nil, is closed-waited inside CreateJob so a
	// test can hold a creation in flight. createEntered, when non-nil,
	// receives a signal as CreateJob is entered.
	createBarrier chan struct{}
	createEntered chan struct{}
}

func newMockJobs() *mockJobs {
	return &mockJobs{
		jobs:       make(map[string]model.JobSpec),
		customerID: "cust-1",
		employees:  make(map[string]string),
	}
}

func (m *mockJobs) ResolveDefaultCustomer(_ context.Context) (string, error) {
	return m.customerID, nil
}

func (m *mockJobs) ResolveDirectoryID(_ context.Context, _, lookup string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.employees[lookup], nil
}

func (m *mockJobs) CreateJob(_ context.Context, spec model.JobSpec) (string, error) {
	if m.createEntered != nil {
		select {
		case m.createEntered <- struct{}{}:
		default:
		}
	}
	if m.createBarrier != nil {
		<-m.createBarrier
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	id := fmt.Sprintf("job-%d", m.nextID)
	m.jobs[id] = spec
	m.created = append(m.created, id)
	return id, nil
}

func (m *mockJobs) UpdateJob(_ context.Context, jobID string, spec model.JobSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls = append(m.updateCalls, jobID)
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.jobs[jobID]; !ok {
		return fmt.Errorf("job %q unknown", jobID)
	}
	m.jobs[jobID] = spec
	return nil
}

func (m *mockJobs) CancelJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls = append(m.cancelCalls, jobID)
	if m.cancelErr != nil {
		return m.cancelErr
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *mockJobs) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *mockJobs) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockJobs) spec(jobID string) (model.JobSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.jobs[jobID]
	return s, ok
}

// --- Mock mapping store -------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	mappings map[string]string
	token    string
	saves    []string // every token ever stored, in order
}

func newMockStore() *mockStore {
	return &mockStore{mappings: make(map[string]string)}
}

func (m *mockStore) GetMapping(_ context.Context, eventID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[eventID], nil
}

func (m *mockStore) PutMapping(_ context.Context, eventID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[eventID] = jobID
	return nil
}

func (m *mockStore) DeleteMapping(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, eventID)
	return nil
}

func (m *mockStore) GetSyncToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *mockStore) SaveSyncToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.saves = append(m.saves, token)
	return nil
}

func (m *mockStore) mapping(eventID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[eventID]
}

func (m *mockStore) mappingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

func (m *mockStore) storedToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}
