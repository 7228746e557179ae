package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"churchadmin/internal/backend"
	"churchadmin/internal/model"
	"churchadmin/internal/validator"
)

type Status int

const (
	StatusLoading Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "loading"
	}
}

type EventKind int

const (
	EventRehydrated EventKind = iota
	EventLogin
	EventLogout
	EventExpired
	EventTenantChanged
)

type Event struct {
	Kind           EventKind
	Epoch          uint64
	OrganizationID string
}

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSuperseded       = errors.New("superseded by a newer session change")
)

// Backend is the slice of the REST backend the session needs.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (model.Actor, error)
	SignUp(ctx context.Context, name, email, password string) (model.Actor, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (model.SessionInfo, error)
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	SetActiveOrganization(ctx context.Context, organizationID string) (model.Organization, error)
}

// Result is the outcome of login and register. Error is meant for the user.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type registerForm struct {
	Name     string `validate:"required,max=150"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,password_policy"`
}

type listener struct {
	id int
	fn func(Event)
}

// Store is the single source of truth for who is signed in and which
// organization scopes their work. Only its own methods mutate it.
type Store struct {
	backend   Backend
	validator *validator.Validator
	logger    *slog.Logger

	mu       sync.RWMutex
	status   Status
	actor    *model.Actor
	org      *model.Organization
	epoch    uint64
	signOuts uint64

	// switchSeq numbers every organization switch issued. switchApplied is
	// the newest one that took effect, or the point where a session change
	// voided every switch still in flight.
	switchSeq     uint64
	switchApplied uint64

	listenerMu   sync.Mutex
	listeners    []listener
	nextListener int

	ready         chan struct{}
	readyOnce     sync.Once
	rehydrateOnce sync.Once
}

func NewStore(b Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   b,
		validator: validator.New(),
		logger:    logger.With("component", "session"),
		status:    StatusLoading,
		ready:     make(chan struct{}),
	}
}

// Rehydrate recovers an existing backend session once. Until it finishes the
// status stays loading and Ready stays open.
func (s *Store) Rehydrate(ctx context.Context, preferredOrganization string) {
	s.rehydrateOnce.Do(func() {
		defer s.markReady()

		info, err := s.backend.GetSession(ctx)
		if err != nil {
			if !errors.Is(err, backend.ErrUnauthenticated) {
				s.logger.WarnContext(ctx, "Session rehydration failed", "error", err)
			}
			s.mu.Lock()
			if s.status == StatusLoading {
				s.status = StatusAnonymous
			}
			s.mu.Unlock()
			return
		}

		org := s.resolveOrganization(ctx, info.ActiveOrganizationID, preferredOrganization)

		s.mu.Lock()
		if s.status != StatusLoading {
			// A login or logout finished first and owns the state.
			s.mu.Unlock()
			return
		}
		s.status = StatusAuthenticated
		s.actor = &info.User
		s.org = org
		s.epoch++
		s.voidSwitchesLocked()
		event := Event{Kind: EventRehydrated, Epoch: s.epoch, OrganizationID: orgID(org)}
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "Session rehydrated", "user_id", info.User.ID, "organization_id", event.OrganizationID)
		s.emit(event)
	})
}

func (s *Store) Login(ctx context.Context, email, password string) Result {
	email = strings.TrimSpace(email)
	if err := s.validator.Validate(loginForm{Email: email, Password: password}); err != nil {
		return Result{Error: validator.Message(err)}
	}

	signOuts := s.signOutCount()
	actor, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		s.logger.InfoContext(ctx, "Login failed", "email", email, "error", err)
		if errors.Is(err, backend.ErrUnauthenticated) && !hasBackendMessage(err) {
			return Result{Error: "Invalid email or password"}
		}
		return Result{Error: backend.Message(err)}
	}

	return s.establish(ctx, actor, signOuts)
}

func (s *Store) Register(ctx context.Context, name, email, password string) Result {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := s.validator.Validate(registerForm{Name: name, Email: email, Password: password}); err != nil {
		return Result{Error: validator.Message(err)}
	}

	signOuts := s.signOutCount()
	actor, err := s.backend.SignUp(ctx, name, email, password)
	if err != nil {
		s.logger.InfoContext(ctx, "Registration failed", "email", email, "error", err)
		return Result{Error: backend.Message(err)}
	}

	return s.establish(ctx, actor, signOuts)
}

func (s *Store) signOutCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signOuts
}

// establish applies a completed sign-in unless the store was signed out after
// the sign-in was issued. In that case the fresh backend session is dropped.
func (s *Store) establish(ctx context.Context, actor model.Actor, signOuts uint64) Result {
	sessionOrg := ""
	if info, err := s.backend.GetSession(ctx); err == nil {
		sessionOrg = info.ActiveOrganizationID
	}
	org := s.resolveOrganization(ctx, sessionOrg, "")

	s.mu.Lock()
	if s.signOuts != signOuts {
		signedIn := s.status == StatusAuthenticated
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "Sign-in discarded after logout", "user_id", actor.ID)
		if !signedIn {
			if err := s.backend.SignOut(ctx); err != nil {
				s.logger.WarnContext(ctx, "Failed to drop discarded backend session", "error", err)
			}
		}
		return Result{Error: "Signed out while signing in"}
	}
	s.status = StatusAuthenticated
	s.actor = &actor
	s.org = org
	s.epoch++
	s.voidSwitchesLocked()
	event := Event{Kind: EventLogin, Epoch: s.epoch, OrganizationID: orgID(org)}
	s.mu.Unlock()

	s.markReady()
	s.logger.InfoContext(ctx, "Signed in", "user_id", actor.ID, "organization_id", event.OrganizationID)
	s.emit(event)
	return Result{Success: true}
}

// Logout clears the actor before talking to the backend, so a failed remote
// sign-out still leaves the store signed out. Calling it twice is harmless.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	wasAuthenticated := s.status == StatusAuthenticated
	s.clearLocked()
	s.signOuts++
	event := Event{Kind: EventLogout, Epoch: s.epoch}
	s.mu.Unlock()
	s.markReady()

	if wasAuthenticated {
		s.emit(event)
	}

	if err := s.backend.SignOut(ctx); err != nil {
		s.logger.WarnContext(ctx, "Remote sign-out failed, local session cleared anyway", "error", err)
	}
}

// Expire is called when the backend reports the session is gone.
func (s *Store) Expire() {
	s.mu.Lock()
	if s.status != StatusAuthenticated {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	event := Event{Kind: EventExpired, Epoch: s.epoch}
	s.mu.Unlock()

	s.logger.Info("Backend session expired")
	s.emit(event)
}

func (s *Store) clearLocked() {
	s.status = StatusAnonymous
	s.actor = nil
	s.org = nil
	s.epoch++
	s.voidSwitchesLocked()
}

func (s *Store) voidSwitchesLocked() {
	s.switchSeq++
	s.switchApplied = s.switchSeq
}

// SetActiveOrganization switches the scoping organization. When switches
// overlap a later successful switch supersedes earlier ones; a failed switch
// supersedes nothing.
func (s *Store) SetActiveOrganization(ctx context.Context, organizationID string) (model.Organization, error) {
	s.mu.Lock()
	if s.status != StatusAuthenticated {
		s.mu.Unlock()
		return model.Organization{}, ErrNotAuthenticated
	}
	s.switchSeq++
	seq := s.switchSeq
	s.mu.Unlock()

	org, err := s.backend.SetActiveOrganization(ctx, organizationID)
	if err != nil {
		s.logger.WarnContext(ctx, "Organization switch failed", "organization_id", organizationID, "error", err)
		return model.Organization{}, err
	}

	s.mu.Lock()
	if seq <= s.switchApplied {
		s.mu.Unlock()
		return model.Organization{}, ErrSuperseded
	}
	s.switchApplied = seq
	s.org = &org
	s.epoch++
	event := Event{Kind: EventTenantChanged, Epoch: s.epoch, OrganizationID: org.ID}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Active organization changed", "organization_id", org.ID)
	s.emit(event)
	return org, nil
}

// Organizations lists the organizations the actor belongs to.
func (s *Store) Organizations(ctx context.Context) ([]model.Organization, error) {
	if s.Status() != StatusAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return s.backend.ListOrganizations(ctx)
}

func (s *Store) resolveOrganization(ctx context.Context, sessionOrg, preferred string) *model.Organization {
	orgs, err := s.backend.ListOrganizations(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to list organizations", "error", err)
		if sessionOrg != "" {
			return &model.Organization{ID: sessionOrg}
		}
		return nil
	}
	if len(orgs) == 0 {
		return nil
	}

	find := func(id string) int {
		return slices.IndexFunc(orgs, func(o model.Organization) bool { return o.ID == id })
	}
	if i := find(preferred); preferred != "" && i >= 0 {
		if preferred != sessionOrg {
			if _, err := s.backend.SetActiveOrganization(ctx, preferred); err != nil {
				s.logger.WarnContext(ctx, "Failed to restore preferred organization", "organization_id", preferred, "error", err)
				return s.resolveOrganization(ctx, sessionOrg, "")
			}
		}
		return &orgs[i]
	}
	if i := find(sessionOrg); sessionOrg != "" && i >= 0 {
		return &orgs[i]
	}
	if _, err := s.backend.SetActiveOrganization(ctx, orgs[0].ID); err != nil {
		s.logger.WarnContext(ctx, "Failed to activate default organization", "organization_id", orgs[0].ID, "error", err)
		return nil
	}
	return &orgs[0]
}

// Subscribe registers fn for session events and returns an unsubscribe func.
// Listeners run synchronously after the state change is visible.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}

func (s *Store) emit(event Event) {
	s.listenerMu.Lock()
	listeners := slices.Clone(s.listeners)
	s.listenerMu.Unlock()
	for _, l := range listeners {
		l.fn(event)
	}
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once the first rehydration, login or logout has settled.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) Actor() (model.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.actor == nil {
		return model.Actor{}, false
	}
	return *s.actor, true
}

func (s *Store) Organization() (model.Organization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.org == nil {
		return model.Organization{}, false
	}
	return *s.org, true
}

// ActiveTenant returns the active organization and the epoch that identifies
// the current login and organization pair.
func (s *Store) ActiveTenant() (string, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusAuthenticated || s.org == nil {
		return "", s.epoch, false
	}
	return s.org.ID, s.epoch, true
}

func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	Status       string              `json:"status"`
	Actor        *model.Actor        `json:"actor,omitempty"`
	Organization *model.Organization `json:"organization,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Status: s.status.String()}
	if s.actor != nil {
		actor := *s.actor
		snap.Actor = &actor
	}
	if s.org != nil {
		org := *s.org
		snap.Organization = &org
	}
	return snap
}

func orgID(org *model.Organization) string {
	if org == nil {
		return ""
	}
	return org.ID
}

func hasBackendMessage(err error) bool {
	var backendErr *backend.Error
	return errors.As(err, &backendErr) && backendErr.Message != ""
}
