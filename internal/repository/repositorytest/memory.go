// Package repositorytest provides in-memory implementations of the repository
// interfaces for unit tests that do not need a database.
package repositorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"codelens-go/internal/model"
	"codelens-go/internal/repository"
	"codelens-go/pkg/apperr"

	"github.com/google/uuid"
)

// Store holds every table in memory. Its accessors return views that satisfy
// the repository interfaces.
type Store struct {
	mu        sync.Mutex
	projects  map[string]*model.Project
	users     map[string]*model.User
	knowledge map[string]*model.FileKnowledge
	commits   []*model.CommitRecord
	questions []*model.SavedQuestion

	// ArchiveErr, when set, makes Archive fail without changing anything.
	ArchiveErr error
	// UpsertErr, when it returns non-nil for a file name, makes Upsert fail for it.
	UpsertErr func(fileName string) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		projects:  map[string]*model.Project{},
		users:     map[string]*model.User{},
		knowledge: map[string]*model.FileKnowledge{},
	}
}

func (s *Store) Projects() repository.ProjectRepository { return projectRepo{s} }
func (s *Store) Users() repository.UserRepository       { return userRepo{s} }
func (s *Store) Knowledge() repository.FileKnowledgeRepository {
	return knowledgeRepo{s}
}
func (s *Store) Commits() repository.CommitRepository { return commitRepo{s} }

// AddUser seeds a user with the given balance.
func (s *Store) AddUser(id string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &model.User{ID: id, Credits: credits}
}

// AddQuestion seeds a saved question.
func (s *Store) AddQuestion(q model.SavedQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	s.questions = append(s.questions, &q)
}

// Project returns a copy of a project, including archived ones.
func (s *Store) Project(id string) (model.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return model.Project{}, false
	}
	return *p, true
}

// ProjectCount returns the number of projects ever created.
func (s *Store) ProjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.projects)
}

// LiveProjectCount returns the number of projects that are not archived.
func (s *Store) LiveProjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.projects {
		if !p.DeletedAt.Valid {
			n++
		}
	}
	return n
}

// Knowledge rows for a project, sorted by file name.
func (s *Store) KnowledgeRows(projectID string) []model.FileKnowledge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []model.FileKnowledge
	for _, fk := range s.knowledge {
		if fk.ProjectID == projectID {
			rows = append(rows, *fk)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].FileName < rows[j].FileName })
	return rows
}

// QuestionCount returns the number of saved questions of a project.
func (s *Store) QuestionCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.questions {
		if q.ProjectID == projectID {
			n++
		}
	}
	return n
}

type projectRepo struct{ s *Store }

func (r projectRepo) Create(_ context.Context, p *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.IndexStatus == "" {
		p.IndexStatus = model.IndexStatusPending
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.projects[p.ID] = &cp
	return nil
}

func (r projectRepo) FindByID(_ context.Context, id string) (*model.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok || p.DeletedAt.Valid {
		return nil, apperr.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (r projectRepo) UpdateStatus(_ context.Context, id, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.projects[id]; ok {
		p.IndexStatus = status
	}
	return nil
}

func (r projectRepo) FinishIndexing(_ context.Context, id, status string, indexed, failed int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.projects[id]; ok {
		p.IndexStatus, p.IndexedFiles, p.FailedFiles = status, indexed, failed
	}
	return nil
}

func (r projectRepo) Archive(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ArchiveErr != nil {
		return r.s.ArchiveErr
	}
	p, ok := r.s.projects[id]
	if !ok || p.DeletedAt.Valid {
		return apperr.ErrProjectNotFound
	}
	for k, fk := range r.s.knowledge {
		if fk.ProjectID == id {
			delete(r.s.knowledge, k)
		}
	}
	var commits []*model.CommitRecord
	for _, c := range r.s.commits {
		if c.ProjectID != id {
			commits = append(commits, c)
		}
	}
	r.s.commits = commits
	var questions []*model.SavedQuestion
	for _, q := range r.s.questions {
		if q.ProjectID != id {
			questions = append(questions, q)
		}
	}
	r.s.questions = questions
	p.DeletedAt.Time, p.DeletedAt.Valid = time.Now(), true
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) Ensure(_ context.Context, id, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		u = &model.User{ID: id, Email: email, Credits: 150}
		r.s.users[id] = u
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) GetBalance(_ context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return u.Credits, nil
	}
	return 0, nil
}

func (r userRepo) Decrement(_ context.Context, id string, n int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.decrement(id, n)
}

func (r userRepo) ChargeProject(_ context.Context, userID, projectID string, n int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[projectID]
	if !ok || p.ChargedAt != nil {
		return false, nil
	}
	if err := r.s.decrement(userID, n); err != nil {
		return false, err
	}
	now := time.Now()
	p.ChargedAt = &now
	return true, nil
}

func (s *Store) decrement(id string, n int) error {
	if n <= 0 {
		return nil
	}
	u, ok := s.users[id]
	if !ok || u.Credits < n {
		return apperr.ErrInsufficientCredits
	}
	u.Credits -= n
	return nil
}

type knowledgeRepo struct{ s *Store }

func (r knowledgeRepo) Upsert(_ context.Context, fk *model.FileKnowledge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.UpsertErr != nil {
		if err := r.s.UpsertErr(fk.FileName); err != nil {
			return err
		}
	}
	key := fk.ProjectID + "\x00" + fk.FileName
	if existing, ok := r.s.knowledge[key]; ok {
		existing.SourceCode, existing.Summary, existing.Embedding = fk.SourceCode, fk.Summary, fk.Embedding
		existing.UpdatedAt = time.Now()
		return nil
	}
	if fk.ID == "" {
		fk.ID = uuid.NewString()
	}
	cp := *fk
	r.s.knowledge[key] = &cp
	return nil
}

func (r knowledgeRepo) CountByProject(ctx context.Context, projectID string) (int64, error) {
	return int64(len(r.s.KnowledgeRows(projectID))), nil
}

func (r knowledgeRepo) FindByProject(_ context.Context, projectID string) ([]model.FileKnowledge, error) {
	return r.s.KnowledgeRows(projectID), nil
}

type commitRepo struct{ s *Store }

func (r commitRepo) ListHashes(_ context.Context, projectID string) (map[string]struct{}, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := map[string]struct{}{}
	for _, c := range r.s.commits {
		if c.ProjectID == projectID {
			set[c.CommitHash] = struct{}{}
		}
	}
	return set, nil
}

func (r commitRepo) InsertBatch(_ context.Context, records []*model.CommitRecord) ([]*model.CommitRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var inserted []*model.CommitRecord
	for _, rec := range records {
		dup := false
		for _, c := range r.s.commits {
			if c.ProjectID == rec.ProjectID && c.CommitHash == rec.CommitHash {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = time.Now()
		cp := *rec
		r.s.commits = append(r.s.commits, &cp)
		inserted = append(inserted, rec)
	}
	return inserted, nil
}

func (r commitRepo) ListByProject(_ context.Context, projectID string) ([]model.CommitRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []model.CommitRecord
	for _, c := range r.s.commits {
		if c.ProjectID == projectID {
			rows = append(rows, *c)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CommitDate.After(rows[j].CommitDate) })
	return rows, nil
}

// Cache is an in-memory CacheRepository.
type Cache struct {
	mu        sync.Mutex
	estimates map[string]int
	locks     map[string]bool
	attempts  map[string]int64
	// Err, when set, fails every call.
	Err error
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{estimates: map[string]int{}, locks: map[string]bool{}, attempts: map[string]int64{}}
}

func (c *Cache) GetEstimate(_ context.Context, key string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, false, c.Err
	}
	n, ok := c.estimates[key]
	return n, ok, nil
}

func (c *Cache) SetEstimate(_ context.Context, key string, fileCount int, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.estimates[key] = fileCount
	return nil
}

func (c *Cache) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	if c.locks[key] {
		return nil, false, nil
	}
	c.locks[key] = true
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.locks, key)
	}, true, nil
}

func (c *Cache) IncrAttempts(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	c.attempts[key]++
	return c.attempts[key], nil
}

func (c *Cache) ClearAttempts(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, key)
	return nil
}

var _ repository.CacheRepository = (*Cache)(nil)
