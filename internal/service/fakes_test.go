package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
)

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (p *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

type fakeUsers struct {
	users map[string]*models.User
}

func newFakeUsers(users ...models.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*models.User)}
	for i := range users {
		u := users[i]
		f.users[u.ID] = &u
	}
	return f
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUsers) ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	var ids []string
	for id, u := range f.users {
		if u.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type fakePrograms struct {
	programs  map[string]*models.DegreeProgram
	lecturers map[string][]string
	courses   map[string][]string
	catalog   *fakeCourses
	users     *fakeUsers
}

func newFakePrograms(programs ...models.DegreeProgram) *fakePrograms {
	f := &fakePrograms{
		programs:  make(map[string]*models.DegreeProgram),
		lecturers: make(map[string][]string),
		courses:   make(map[string][]string),
	}
	for i := range programs {
		p := programs[i]
		f.programs[p.ID] = &p
	}
	return f
}

func (f *fakePrograms) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error) {
	if p, ok := f.programs[id]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakePrograms) FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.DegreeProgram, error) {
	var out []models.DegreeProgram
	for _, id := range ids {
		if p, ok := f.programs[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePrograms) HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error) {
	for _, id := range f.lecturers[programID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePrograms) AddLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error) {
	if ok, _ := f.HasLecturer(ctx, tx, programID, userID); ok {
		return false, nil
	}
	f.lecturers[programID] = append(f.lecturers[programID], userID)
	return true, nil
}

func (f *fakePrograms) RemoveLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) error {
	kept := f.lecturers[programID][:0]
	found := false
	for _, id := range f.lecturers[programID] {
		if id == userID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	f.lecturers[programID] = kept
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (f *fakePrograms) ListLecturers(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.UserSummary, error) {
	out := []models.UserSummary{}
	for _, id := range f.lecturers[programID] {
		summary := models.UserSummary{ID: id}
		if f.users != nil {
			if u, ok := f.users.users[id]; ok {
				summary.Name, summary.Email = u.Name, u.Email
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

func (f *fakePrograms) AppendCourse(ctx context.Context, tx *sqlx.Tx, programID, courseID string) error {
	f.courses[programID] = append(f.courses[programID], courseID)
	return nil
}

func (f *fakePrograms) ListCourses(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.Course, error) {
	out := []models.Course{}
	for _, id := range f.courses[programID] {
		if f.catalog == nil {
			out = append(out, models.Course{ID: id})
			continue
		}
		if c, ok := f.catalog.courses[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakePrograms) ListCourseIDs(ctx context.Context, tx *sqlx.Tx, programIDs []string) ([]string, error) {
	var out []string
	for _, pid := range programIDs {
		for _, cid := range f.courses[pid] {
			if f.catalog != nil {
				if _, ok := f.catalog.courses[cid]; !ok {
					continue
				}
			}
			out = append(out, cid)
		}
	}
	return out, nil
}

type fakeCourses struct {
	courses   map[string]*models.Course
	materials map[string][]models.Material
}

func newFakeCourses(courses ...models.Course) *fakeCourses {
	f := &fakeCourses{courses: make(map[string]*models.Course), materials: make(map[string][]models.Material)}
	for i := range courses {
		c := courses[i]
		f.courses[c.ID] = &c
	}
	return f
}

func (f *fakeCourses) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourses) FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if c, ok := f.courses[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeEnrollments struct {
	rows map[string]*models.Enrollment
}

func newFakeEnrollments() *fakeEnrollments {
	return &fakeEnrollments{rows: make(map[string]*models.Enrollment)}
}

func (f *fakeEnrollments) Upsert(ctx context.Context, tx *sqlx.Tx, params repository.UpsertEnrollmentParams) (*models.Enrollment, error) {
	key := params.StudentID + "/" + params.ProgramID
	row, ok := f.rows[key]
	if !ok {
		row = &models.Enrollment{
			ID:              fmt.Sprintf("enr-%d", len(f.rows)+1),
			StudentID:       params.StudentID,
			DegreeProgramID: params.ProgramID,
			RequestedAt:     params.RequestedAt,
		}
		f.rows[key] = row
	}
	row.Status = params.Status
	processedAt := params.ProcessedAt
	processedBy := params.ProcessedBy
	row.ProcessedAt = &processedAt
	row.ProcessedBy = &processedBy
	copy := *row
	return &copy, nil
}

type fakeRollups struct {
	roles   map[string]models.UserRole
	degrees map[string][]models.DegreeEntry
	courses map[string][]models.CourseEntry
}

func newFakeRollups() *fakeRollups {
	return &fakeRollups{
		roles:   make(map[string]models.UserRole),
		degrees: make(map[string][]models.DegreeEntry),
		courses: make(map[string][]models.CourseEntry),
	}
}

func (f *fakeRollups) EnsureDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error {
	f.roles[userID] = role
	if _, ok := f.degrees[userID]; !ok {
		f.degrees[userID] = []models.DegreeEntry{}
	}
	return nil
}

func (f *fakeRollups) LockDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) error {
	if _, ok := f.degrees[userID]; !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (f *fakeRollups) AddDegreeEntry(ctx context.Context, tx *sqlx.Tx, entry models.DegreeEntry) (bool, error) {
	for i, e := range f.degrees[entry.UserID] {
		if e.DegreeID == entry.DegreeID {
			if e.Status == entry.Status {
				return false, nil
			}
			f.degrees[entry.UserID][i] = entry
			return true, nil
		}
	}
	f.degrees[entry.UserID] = append(f.degrees[entry.UserID], entry)
	return true, nil
}

func (f *fakeRollups) GetDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) (*models.DegreeUser, error) {
	entries, ok := f.degrees[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.DegreeUser{UserID: userID, UserRole: f.roles[userID], Degrees: append([]models.DegreeEntry(nil), entries...)}, nil
}

func (f *fakeRollups) ListDegreeEntries(ctx context.Context, tx *sqlx.Tx, userID string) ([]models.DegreeEntry, error) {
	return append([]models.DegreeEntry(nil), f.degrees[userID]...), nil
}

func (f *fakeRollups) HasActiveDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error) {
	for _, e := range f.degrees[userID] {
		if e.DegreeID == degreeID && e.Status == models.MembershipStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRollups) ListActiveDegreeIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	for _, e := range f.degrees[userID] {
		if e.Status == models.MembershipStatusActive {
			ids = append(ids, e.DegreeID)
		}
	}
	return ids, nil
}

func (f *fakeRollups) ReplaceDegreeEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.DegreeEntry) error {
	f.degrees[userID] = append([]models.DegreeEntry{}, entries...)
	return nil
}

func (f *fakeRollups) DeleteDegreeEntriesByDegree(ctx context.Context, tx *sqlx.Tx, degreeID string) (int64, error) {
	var removed int64
	for user, entries := range f.degrees {
		kept := entries[:0]
		for _, e := range entries {
			if e.DegreeID == degreeID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		f.degrees[user] = kept
	}
	return removed, nil
}

func (f *fakeRollups) DeleteDegreeEntry(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error) {
	entries := f.degrees[userID]
	for i, e := range entries {
		if e.DegreeID == degreeID {
			f.degrees[userID] = append(entries[:i:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRollups) EnsureCourseUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error {
	f.roles[userID] = role
	if _, ok := f.courses[userID]; !ok {
		f.courses[userID] = []models.CourseEntry{}
	}
	return nil
}

func (f *fakeRollups) AddCourseEntry(ctx context.Context, tx *sqlx.Tx, entry models.CourseEntry) (bool, error) {
	for i, e := range f.courses[entry.UserID] {
		if e.CourseID == entry.CourseID {
			if e.Status == entry.Status {
				return false, nil
			}
			f.courses[entry.UserID][i] = entry
			return true, nil
		}
	}
	f.courses[entry.UserID] = append(f.courses[entry.UserID], entry)
	return true, nil
}

func (f *fakeRollups) ListCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string) ([]models.CourseEntry, error) {
	return append([]models.CourseEntry(nil), f.courses[userID]...), nil
}

func (f *fakeRollups) HasActiveCourse(ctx context.Context, tx *sqlx.Tx, userID, courseID string) (bool, error) {
	for _, e := range f.courses[userID] {
		if e.CourseID == courseID && e.Status == models.MembershipStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRollups) ReplaceCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.CourseEntry) error {
	f.courses[userID] = append([]models.CourseEntry{}, entries...)
	return nil
}

func (f *fakeRollups) DeleteCourseEntriesByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	var removed int64
	for user, entries := range f.courses {
		kept := entries[:0]
		for _, e := range entries {
			if e.CourseID == courseID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		f.courses[user] = kept
	}
	return removed, nil
}

type fakeRequests struct {
	mu       sync.Mutex
	requests map[string]*models.Request
	order    []string
	query    models.RequestQuery
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{requests: make(map[string]*models.Request)}
}

func (f *fakeRequests) Create(ctx context.Context, request *models.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if request.ID == "" {
		request.ID = fmt.Sprintf("req-%d", len(f.order)+1)
	}
	copy := *request
	f.requests[request.ID] = &copy
	f.order = append(f.order, request.ID)
	return nil
}

func (f *fakeRequests) ExistsPending(ctx context.Context, requestType models.RequestType, requesterID string, programID, courseID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.Type != requestType || r.RequesterID != requesterID || r.Status != models.RequestStatusPending {
			continue
		}
		if courseID != nil {
			if r.CourseID != nil && *r.CourseID == *courseID {
				return true, nil
			}
			continue
		}
		if programID != nil && r.DegreeProgramID != nil && *r.DegreeProgramID == *programID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRequests) GetByID(ctx context.Context, id string) (*models.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.requests[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRequests) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Request, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRequests) Resolve(ctx context.Context, tx *sqlx.Tx, params models.ResolveRequestParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[params.ID]
	if !ok || r.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	r.Status = params.Status
	r.Message = params.Message
	respondedBy := params.RespondedBy
	respondedAt := params.RespondedAt
	r.RespondedBy = &respondedBy
	r.RespondedAt = &respondedAt
	return nil
}

func (f *fakeRequests) List(ctx context.Context, query models.RequestQuery) ([]models.RequestDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	var out []models.RequestDetail
	for _, id := range f.order {
		r, ok := f.requests[id]
		if !ok {
			continue
		}
		out = append(out, models.RequestDetail{Request: *r})
	}
	return out, nil
}

func (f *fakeRequests) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.requests, id)
	return nil
}

type fakeAudit struct {
	logs []models.AuditLog
}

func (f *fakeAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.logs = append(f.logs, *log)
	return nil
}

func strPtr(v string) *string {
	return &v
}

func (f *fakePrograms) Create(ctx context.Context, program *models.DegreeProgram) error {
	for _, p := range f.programs {
		if p.Code == program.Code {
			return repository.ErrDuplicateKey
		}
	}
	if program.ID == "" {
		program.ID = fmt.Sprintf("p-%d", len(f.programs)+1)
	}
	copy := *program
	f.programs[program.ID] = &copy
	return nil
}

func (f *fakePrograms) Update(ctx context.Context, program *models.DegreeProgram) error {
	if _, ok := f.programs[program.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *program
	f.programs[program.ID] = &copy
	return nil
}

func (f *fakePrograms) List(ctx context.Context, filter models.ProgramFilter) ([]models.DegreeProgram, int, error) {
	var out []models.DegreeProgram
	for _, p := range f.programs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, len(out), nil
}

func (f *fakePrograms) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, ok := f.programs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.programs, id)
	delete(f.lecturers, id)
	delete(f.courses, id)
	if f.catalog != nil {
		for _, c := range f.catalog.courses {
			if c.DegreeProgramID != nil && *c.DegreeProgramID == id {
				c.DegreeProgramID = nil
			}
		}
	}
	return nil
}

func (f *fakeCourses) Create(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	if course.ID == "" {
		course.ID = fmt.Sprintf("c-%d", len(f.courses)+1)
	}
	copy := *course
	f.courses[course.ID] = &copy
	return nil
}

func (f *fakeCourses) Update(ctx context.Context, course *models.Course) error {
	if _, ok := f.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *course
	f.courses[course.ID] = &copy
	return nil
}

func (f *fakeCourses) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, ok := f.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.courses, id)
	delete(f.materials, id)
	return nil
}

func (f *fakeCourses) ListMaterials(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Material, error) {
	return append([]models.Material(nil), f.materials[courseID]...), nil
}

func (f *fakeCourses) FindMaterial(ctx context.Context, id string) (*models.Material, error) {
	for _, list := range f.materials {
		for _, m := range list {
			if m.ID == id {
				copy := m
				return &copy, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourses) AppendMaterial(ctx context.Context, material *models.Material) error {
	if material.ID == "" {
		material.ID = fmt.Sprintf("m-%d", len(f.materials[material.CourseID])+1)
	}
	material.Position = len(f.materials[material.CourseID])
	f.materials[material.CourseID] = append(f.materials[material.CourseID], *material)
	return nil
}

func (f *fakeCourses) DeleteMaterial(ctx context.Context, courseID, materialID string) error {
	list := f.materials[courseID]
	for i, m := range list {
		if m.ID == materialID {
			f.materials[courseID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type fakeFiles struct {
	objects map[string][]byte
	deleted []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{objects: make(map[string][]byte)}
}

func (f *fakeFiles) Delete(key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeEnrollments) DeleteByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error) {
	var removed int64
	for key, row := range f.rows {
		if row.DegreeProgramID == programID {
			delete(f.rows, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeRequests) DeletePendingByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error) {
	return f.deletePending(func(r *models.Request) bool {
		return r.DegreeProgramID != nil && *r.DegreeProgramID == programID
	}), nil
}

func (f *fakeRequests) DeletePendingByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return f.deletePending(func(r *models.Request) bool {
		return r.CourseID != nil && *r.CourseID == courseID
	}), nil
}

func (f *fakeRequests) deletePending(match func(*models.Request) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, r := range f.requests {
		if r.Status == models.RequestStatusPending && match(r) {
			delete(f.requests, id)
			removed++
		}
	}
	return removed
}
