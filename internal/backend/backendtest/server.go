// Package backendtest runs an in-memory stand-in for the REST backend so the
// dashboard core can be exercised end to end in tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"
)

const (
	OrgGrace = "org-grace"
	OrgHope  = "org-hope"

	AdminEmail    = "admin@church.org"
	PastorEmail   = "pastor@church.org"
	MinisterEmail = "minister@church.org"
	ViewerEmail   = "viewer@church.org"
	Password      = "secret123"

	sessionCookie = "backend_session"
)

type User struct {
	ID       string
	Name     string
	Email    string
	Password string
	Role     string
}

type session struct {
	userID    string
	activeOrg string
}

type collection struct {
	order []string
	items map[string]map[string]any
}

// Server is a fake backend. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]*User
	sessions    map[string]*session
	orgs        map[string]model.Organization
	orgOrder    []string
	memberships map[string]map[string]string
	customRoles map[string]rbac.Role
	records     map[string]map[string]*collection
	requests    map[string]int
	holds       map[string]chan struct{}
	checks      int
	failChecks  int
	nextID      int
}

// New starts an empty fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		users:       make(map[string]*User),
		sessions:    make(map[string]*session),
		orgs:        make(map[string]model.Organization),
		memberships: make(map[string]map[string]string),
		customRoles: make(map[string]rbac.Role),
		records:     make(map[string]map[string]*collection),
		requests:    make(map[string]int),
		holds:       make(map[string]chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// NewSeeded starts a fake backend with two organizations and one user per
// built-in role of interest, all sharing Password.
func NewSeeded(t testing.TB) *Server {
	s := New(t)
	s.AddOrganization(model.Organization{ID: OrgGrace, Name: "Grace Church", Slug: "grace"})
	s.AddOrganization(model.Organization{ID: OrgHope, Name: "Hope Chapel", Slug: "hope"})

	admin := s.AddUser(User{ID: "user-admin", Name: "Ada Admin", Email: AdminEmail, Password: Password, Role: rbac.RoleSuperAdmin})
	pastor := s.AddUser(User{ID: "user-pastor", Name: "Paul Pastor", Email: PastorEmail, Password: Password, Role: rbac.RolePastor})
	minister := s.AddUser(User{ID: "user-minister", Name: "Mia Minister", Email: MinisterEmail, Password: Password, Role: rbac.RoleMinister})
	viewer := s.AddUser(User{ID: "user-viewer", Name: "Vic Viewer", Email: ViewerEmail, Password: Password, Role: rbac.RoleViewer})

	s.AddMembership(OrgGrace, admin.ID, rbac.RoleSuperAdmin)
	s.AddMembership(OrgHope, admin.ID, rbac.RoleSuperAdmin)
	s.AddMembership(OrgGrace, pastor.ID, rbac.RolePastor)
	s.AddMembership(OrgGrace, minister.ID, rbac.RoleMinister)
	s.AddMembership(OrgHope, minister.ID, rbac.RoleViewer)
	s.AddMembership(OrgGrace, viewer.ID, rbac.RoleViewer)
	return s
}

func (s *Server) AddUser(u User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = s.newID("user")
	}
	s.users[u.ID] = &u
	return &u
}

func (s *Server) AddOrganization(org model.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
	s.orgOrder = append(s.orgOrder, org.ID)
}

func (s *Server) AddMembership(orgID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberships[orgID] == nil {
		s.memberships[orgID] = make(map[string]string)
	}
	s.memberships[orgID][userID] = role
}

// AddRole registers a custom role that memberships can reference by name.
func (s *Server) AddRole(role rbac.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = s.newID("role")
	}
	s.customRoles[role.Name] = role
}

// Seed stores records in an organization's collection and returns their ids.
func (s *Server) Seed(orgID, name string, items ...map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, s.insert(orgID, name, item))
	}
	return ids
}

// Record returns a stored record or nil.
func (s *Server) Record(orgID, name, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(orgID, name)
	item, ok := coll.items[id]
	if !ok {
		return nil
	}
	return clone(item)
}

// Requests counts the requests served for a method and exact path.
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// PermissionChecks counts /organization/has-permission calls.
func (s *Server) PermissionChecks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// FailPermissionChecks makes the next n permission checks answer 500.
func (s *Server) FailPermissionChecks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChecks = n
}

// ExpireSessions forgets every backend session.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
}

// Hold blocks requests whose path starts with prefix until the returned
// release func is called. The caller's tenant is resolved before blocking.
func (s *Server) Hold(prefix string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[prefix] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, prefix)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.Method+" "+r.URL.Path]++
	sess := s.currentSession(r)
	var hold chan struct{}
	for prefix, ch := range s.holds {
		if strings.HasPrefix(r.URL.Path, prefix) {
			hold = ch
		}
	}
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}

	switch r.URL.Path {
	case "/sign-in":
		s.signIn(w, r)
	case "/sign-up":
		s.signUp(w, r)
	case "/sign-out":
		s.signOut(w, r)
	case "/session":
		s.getSession(w, sess)
	case "/organization/list":
		s.listOrganizations(w, sess)
	case "/organization/set-active":
		s.setActive(w, r, sess)
	case "/organization/has-permission":
		s.hasPermission(w, r, sess)
	default:
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "route not found"})
			return
		}
		s.api(w, r, sess)
	}
}

func (s *Server) currentSession(r *http.Request) *session {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	sess, ok := s.sessions[cookie.Value]
	if !ok {
		return nil
	}
	copied := *sess
	return &copied
}

func (s *Server) startSession(w http.ResponseWriter, userID string) {
	token := s.newID("token")
	s.sessions[token] = &session{userID: userID, activeOrg: s.firstOrg(userID)}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/", HttpOnly: true})
}

func (s *Server) firstOrg(userID string) string {
	for _, orgID := range s.orgOrder {
		if _, ok := s.memberships[orgID][userID]; ok {
			return orgID
		}
	}
	return ""
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, body.Email) && u.Password == body.Password {
			s.startSession(w, u.ID)
			writeJSON(w, http.StatusOK, map[string]any{"user": actor(u)})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid email or password"})
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, body.Email) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "User already exists"})
			return
		}
	}
	u := &User{ID: s.newID("user"), Name: body.Name, Email: body.Email, Password: body.Password, Role: rbac.RoleViewer}
	s.users[u.ID] = u
	s.startSession(w, u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": actor(u)})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		delete(s.sessions, cookie.Value)
	}
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) getSession(w http.ResponseWriter, sess *session) {
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[sess.userID]
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    actor(u),
		"session": map[string]any{"activeOrganizationId": sess.activeOrg},
	})
}

func (s *Server) listOrganizations(w http.ResponseWriter, sess *session) {
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orgs := []model.Organization{}
	for _, orgID := range s.orgOrder {
		if _, ok := s.memberships[orgID][sess.userID]; ok {
			orgs = append(orgs, s.orgs[orgID])
		}
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) setActive(w http.ResponseWriter, r *http.Request, sess *session) {
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}
	var body struct {
		OrganizationID string `json:"organizationId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[body.OrganizationID][sess.userID]; !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "You are not a member of this organization"})
		return
	}
	cookie, _ := r.Cookie(sessionCookie)
	if live, ok := s.sessions[cookie.Value]; ok {
		live.activeOrg = body.OrganizationID
	}
	writeJSON(w, http.StatusOK, s.orgs[body.OrganizationID])
}

func (s *Server) hasPermission(w http.ResponseWriter, r *http.Request, sess *session) {
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}
	var body struct {
		OrganizationID string                          `json:"organizationId"`
		Permission     map[rbac.Resource][]rbac.Action `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	if s.failChecks > 0 {
		s.failChecks--
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "authorization service unavailable"})
		return
	}

	grants := s.grantsIn(body.OrganizationID, sess.userID)
	allowed := len(body.Permission) > 0
	for resource, actions := range body.Permission {
		if !grants.Allows(resource, actions...) {
			allowed = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hasPermission": allowed})
}

func (s *Server) grantsIn(orgID, userID string) rbac.Grants {
	role, ok := s.memberships[orgID][userID]
	if !ok {
		return rbac.Grants{}
	}
	merged := rbac.Grants{}
	for _, name := range rbac.ParseRoleNames(role) {
		grants := rbac.GrantsFor(name)
		if custom, ok := s.customRoles[name]; ok {
			grants = custom.Permissions
		}
		for resource, actions := range grants {
			merged[resource] = append(merged[resource], actions...)
		}
	}
	return merged
}

func (s *Server) roleIn(orgID, userID string) string {
	return s.memberships[orgID][userID]
}

var collectionResources = map[string]rbac.Resource{
	"members":         rbac.ResourceMember,
	"church-services": rbac.ResourceChurchService,
	"ministers":       rbac.ResourceMinister,
	"users":           rbac.ResourceUser,
	"roles":           rbac.ResourceRole,
	"sessions":        rbac.ResourceSession,
	"activity-logs":   rbac.ResourceAnalytics,
}

func requiredAction(method string, parts []string) rbac.Action {
	if len(parts) >= 3 {
		switch parts[2] {
		case "ban", "unban":
			return rbac.ActionBan
		case "role":
			return rbac.ActionSetRole
		case "password":
			return rbac.ActionSetPassword
		case "sessions":
			return rbac.ActionList
		case "members":
			if method == http.MethodDelete {
				return rbac.ActionExit
			}
			return rbac.ActionEnroll
		}
	}
	switch method {
	case http.MethodPost:
		return rbac.ActionCreate
	case http.MethodPatch, http.MethodPut:
		return rbac.ActionUpdate
	case http.MethodDelete:
		if parts[0] == "sessions" {
			return rbac.ActionRevoke
		}
		return rbac.ActionDelete
	default:
		if len(parts) == 1 || parts[1] == "search" {
			return rbac.ActionList
		}
		return rbac.ActionRead
	}
}

func (s *Server) api(w http.ResponseWriter, r *http.Request, sess *session) {
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Unauthorized"})
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	if parts[0] == "roles" {
		s.roles(w, r, sess, parts)
		return
	}

	resource, known := collectionResources[parts[0]]
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "unknown resource"})
		return
	}
	action := requiredAction(r.Method, parts)
	if resource == rbac.ResourceAnalytics {
		action = rbac.ActionRead
	}
	if len(parts) >= 3 && parts[2] == "sessions" {
		resource = rbac.ResourceSession
	}
	if !s.grantsIn(sess.activeOrg, sess.userID).Allows(resource, action) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": fmt.Sprintf("You do not have permission to %s %s", action, resource),
		})
		return
	}

	coll := s.collection(sess.activeOrg, parts[0])
	switch {
	case len(parts) == 2 && parts[1] == "search" && r.Method == http.MethodGet:
		s.search(w, r, coll)
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.list(w, r, coll)
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.create(w, r, sess.activeOrg, parts[0])
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.get(w, coll, parts[1])
	case len(parts) == 2 && r.Method == http.MethodPatch:
		s.update(w, r, coll, parts[1])
	case len(parts) == 2 && r.Method == http.MethodDelete:
		s.remove(w, coll, parts[1])
	case len(parts) >= 3:
		s.subresource(w, r, sess.activeOrg, coll, parts)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "message": "method not allowed"})
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, coll *collection) {
	query := r.URL.Query()
	page := atoi(query.Get("page"), 1)
	limit := atoi(query.Get("limit"), 10)
	search := strings.ToLower(query.Get("search"))

	var matched []map[string]any
	for _, id := range coll.order {
		item := coll.items[id]
		if search != "" && !matches(item, search) {
			continue
		}
		if !matchesFilters(item, query) {
			continue
		}
		matched = append(matched, item)
	}

	total := len(matched)
	pages := int(math.Ceil(float64(total) / float64(limit)))
	items := []map[string]any{}
	start := (page - 1) * limit
	if start < total {
		end := min(start+limit, total)
		items = matched[start:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       items,
		"pagination": model.Pagination{Total: total, Page: page, Limit: limit, Pages: pages},
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, coll *collection) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	limit := atoi(r.URL.Query().Get("limit"), 10)
	results := []map[string]any{}
	for _, id := range coll.order {
		if len(results) == limit {
			break
		}
		if q != "" && matches(coll.items[id], q) {
			results = append(results, coll.items[id])
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": results})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, orgID, name string) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid body"})
		return
	}
	if name == "members" {
		if first, _ := item["firstName"].(string); first == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": "firstName is required"})
			return
		}
	}
	id := s.insert(orgID, name, item)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": s.collection(orgID, name).items[id]})
}

func (s *Server) get(w http.ResponseWriter, coll *collection, id string) {
	item, ok := coll.items[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": item})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, coll *collection, id string) {
	item, ok := coll.items[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Record not found"})
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid body"})
		return
	}
	for k, v := range patch {
		if k != "id" {
			item[k] = v
		}
	}
	item["updatedAt"] = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": item})
}

func (s *Server) remove(w http.ResponseWriter, coll *collection, id string) {
	if _, ok := coll.items[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Record not found"})
		return
	}
	delete(coll.items, id)
	coll.order = slices.DeleteFunc(coll.order, func(v string) bool { return v == id })
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) subresource(w http.ResponseWriter, r *http.Request, orgID string, coll *collection, parts []string) {
	item, ok := coll.items[parts[1]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Record not found"})
		return
	}
	var body map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case parts[0] == "users" && parts[2] == "ban":
		item["banned"] = true
		item["banReason"] = body["banReason"]
	case parts[0] == "users" && parts[2] == "unban":
		item["banned"] = false
		delete(item, "banReason")
	case parts[0] == "users" && parts[2] == "role":
		item["role"] = body["role"]
	case parts[0] == "users" && parts[2] == "password":
		if pw, _ := body["newPassword"].(string); len(pw) < 6 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": "Password is too short"})
			return
		}
	case parts[0] == "users" && parts[2] == "sessions":
		sessions := []map[string]any{}
		sessColl := s.collection(orgID, "sessions")
		for _, id := range sessColl.order {
			if sessColl.items[id]["userId"] == parts[1] {
				sessions = append(sessions, sessColl.items[id])
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": sessions})
		return
	case parts[0] == "church-services" && parts[2] == "members" && r.Method == http.MethodPost:
		memberID, _ := body["memberId"].(string)
		ids := stringSlice(item["memberIds"])
		if !slices.Contains(ids, memberID) {
			ids = append(ids, memberID)
		}
		item["memberIds"] = ids
		item["memberCount"] = len(ids)
	case parts[0] == "church-services" && parts[2] == "members" && r.Method == http.MethodDelete && len(parts) == 4:
		ids := slices.DeleteFunc(stringSlice(item["memberIds"]), func(v string) bool { return v == parts[3] })
		item["memberIds"] = ids
		item["memberCount"] = len(ids)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "route not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": item})
}

func (s *Server) roles(w http.ResponseWriter, r *http.Request, sess *session, parts []string) {
	grants := s.grantsIn(sess.activeOrg, sess.userID)
	deny := func(action rbac.Action) bool {
		if grants.Allows(rbac.ResourceRole, action) {
			return false
		}
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": fmt.Sprintf("You do not have permission to %s role", action),
		})
		return true
	}

	switch {
	case len(parts) == 2 && parts[1] == "me":
		role := s.roleIn(sess.activeOrg, sess.userID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rbac.Role{ID: role, Name: role, Label: role, Permissions: grants}})
	case len(parts) == 2 && parts[1] == "permissions":
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rbac.Catalog()})
	case len(parts) == 1 && r.Method == http.MethodGet:
		if deny(rbac.ActionList) {
			return
		}
		roles := rbac.BuiltinRoles()
		for i := range roles {
			roles[i].ID = roles[i].Name
		}
		names := make([]string, 0, len(s.customRoles))
		for name := range s.customRoles {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			roles = append(roles, s.customRoles[name])
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": roles})
	case len(parts) == 1 && r.Method == http.MethodPost:
		if deny(rbac.ActionCreate) {
			return
		}
		var role rbac.Role
		if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid body"})
			return
		}
		if err := role.Validate(); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": err.Error()})
			return
		}
		if _, exists := s.customRoles[role.Name]; exists || rbac.IsBuiltin(role.Name) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "message": "Role already exists"})
			return
		}
		role.ID = s.newID("role")
		s.customRoles[role.Name] = role
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": role})
	case len(parts) == 2 && r.Method == http.MethodPatch:
		if deny(rbac.ActionUpdate) {
			return
		}
		name, role, ok := s.customRoleByID(parts[1])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Role not found"})
			return
		}
		var patch rbac.Role
		_ = json.NewDecoder(r.Body).Decode(&patch)
		if patch.Label != "" {
			role.Label = patch.Label
		}
		if patch.Description != "" {
			role.Description = patch.Description
		}
		if patch.Permissions != nil {
			role.Permissions = patch.Permissions
		}
		s.customRoles[name] = role
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": role})
	case len(parts) == 2 && r.Method == http.MethodDelete:
		if deny(rbac.ActionDelete) {
			return
		}
		if rbac.IsBuiltin(parts[1]) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Built-in roles cannot be deleted"})
			return
		}
		name, _, ok := s.customRoleByID(parts[1])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Role not found"})
			return
		}
		delete(s.customRoles, name)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "route not found"})
	}
}

func (s *Server) customRoleByID(id string) (string, rbac.Role, bool) {
	for name, role := range s.customRoles {
		if role.ID == id {
			return name, role, true
		}
	}
	return "", rbac.Role{}, false
}

func (s *Server) collection(orgID, name string) *collection {
	if s.records[orgID] == nil {
		s.records[orgID] = make(map[string]*collection)
	}
	coll, ok := s.records[orgID][name]
	if !ok {
		coll = &collection{items: make(map[string]map[string]any)}
		s.records[orgID][name] = coll
	}
	return coll
}

func (s *Server) insert(orgID, name string, item map[string]any) string {
	item = clone(item)
	id, _ := item["id"].(string)
	if id == "" {
		id = s.newID(strings.TrimSuffix(name, "s"))
		item["id"] = id
	}
	now := time.Now().UTC().Format(time.RFC3339)
	item["createdAt"] = now
	item["updatedAt"] = now
	coll := s.collection(orgID, name)
	coll.items[id] = item
	coll.order = append(coll.order, id)
	return id
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func actor(u *User) model.Actor {
	return model.Actor{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, EmailVerified: true}
}

func matches(item map[string]any, needle string) bool {
	for _, v := range item {
		if str, ok := v.(string); ok && strings.Contains(strings.ToLower(str), needle) {
			return true
		}
	}
	return false
}

func matchesFilters(item map[string]any, query map[string][]string) bool {
	for key, values := range query {
		switch key {
		case "page", "limit", "search":
			continue
		}
		if len(values) == 0 || values[0] == "" {
			continue
		}
		if fmt.Sprint(item[key]) != values[0] {
			return false
		}
	}
	return true
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return slices.Clone(vals)
	case []any:
		out := make([]string, 0, len(vals))
		for _, val := range vals {
			if str, ok := val.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return []string{}
}

func atoi(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func clone(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
