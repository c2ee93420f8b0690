package repository

import (
	"context"
	"sort"
	"sync"
	"time"
	"tinkerfai_backend/internal/model"
	"tinkerfai_backend/internal/util"
)

type projectKey struct {
	email string
	id    string
}

type slotKey struct {
	projectKey
	slot model.Slot
}

// MemoryStore 进程内存储，用于本地开发和测试
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[projectKey]*model.Project
	answers  map[slotKey]*model.Answer
	drafts   map[slotKey]*model.QuestionDraft
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[projectKey]*model.Project),
		answers:  make(map[slotKey]*model.Answer),
		drafts:   make(map[slotKey]*model.QuestionDraft),
		now:      time.Now,
	}
}

func (s *MemoryStore) Projects() ProjectRepository { return (*memoryProjects)(s) }
func (s *MemoryStore) Answers() AnswerRepository   { return (*memoryAnswers)(s) }
func (s *MemoryStore) Ping(context.Context) error  { return nil }

type memoryProjects MemoryStore

func (r *memoryProjects) Create(_ context.Context, project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := projectKey{project.UserEmail, project.ProjectID}
	if _, exists := r.projects[key]; exists {
		return util.ErrDuplicateProject
	}
	r.projects[key] = cloneProject(project, true)
	return nil
}

func (r *memoryProjects) Get(_ context.Context, userEmail, projectID string) (*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[projectKey{userEmail, projectID}]
	if !ok {
		return nil, util.ErrProjectNotFound
	}
	return cloneProject(p, true), nil
}

func (r *memoryProjects) ListForUser(_ context.Context, userEmail string) ([]*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := make([]*model.Project, 0)
	for key, p := range r.projects {
		if key.email == userEmail {
			projects = append(projects, cloneProject(p, false))
		}
	}
	sortByRecency(projects)
	return projects, nil
}

func (r *memoryProjects) Update(_ context.Context, userEmail, projectID string, update model.ProjectUpdate) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectKey{userEmail, projectID}]
	if !ok {
		return nil, util.ErrProjectNotFound
	}
	if update.ProjectName != nil {
		p.ProjectName = *update.ProjectName
	}
	if update.ProjectType != nil {
		p.ProjectType = *update.ProjectType
	}
	p.UpdatedAt = r.now().UTC()
	return cloneProject(p, true), nil
}

func (r *memoryProjects) AppendContext(_ context.Context, userEmail, projectID string, entry model.ContextEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectKey{userEmail, projectID}]
	if !ok {
		return util.ErrProjectNotFound
	}
	p.ContextLog = append(p.ContextLog, entry)
	p.UpdatedAt = r.now().UTC()
	return nil
}

func (r *memoryProjects) Delete(_ context.Context, userEmail, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := projectKey{userEmail, projectID}
	if _, ok := r.projects[key]; !ok {
		return util.ErrProjectNotFound
	}
	for k := range r.answers {
		if k.projectKey == key {
			delete(r.answers, k)
		}
	}
	for k := range r.drafts {
		if k.projectKey == key {
			delete(r.drafts, k)
		}
	}
	delete(r.projects, key)
	return nil
}

type memoryAnswers MemoryStore

func answerKey(userEmail, projectID string, taskIndex, subtaskIndex int) slotKey {
	return slotKey{projectKey{userEmail, projectID}, model.Slot{Task: taskIndex, Subtask: subtaskIndex}}
}

func (r *memoryAnswers) Save(_ context.Context, answer *model.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := *answer
	r.answers[answerKey(a.UserEmail, a.ProjectID, a.TaskIndex, a.SubtaskIndex)] = &a
	return nil
}

func (r *memoryAnswers) Get(_ context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.answers[answerKey(userEmail, projectID, taskIndex, subtaskIndex)]
	if !ok {
		return nil, util.ErrAnswerNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memoryAnswers) ListForProject(_ context.Context, userEmail, projectID string) ([]*model.Answer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := projectKey{userEmail, projectID}
	answers := make([]*model.Answer, 0)
	for k, a := range r.answers {
		if k.projectKey == key {
			cp := *a
			answers = append(answers, &cp)
		}
	}
	model.SortAnswers(answers)
	return answers, nil
}

func (r *memoryAnswers) SaveDraft(_ context.Context, draft *model.QuestionDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := *draft
	r.drafts[answerKey(d.UserEmail, d.ProjectID, d.TaskIndex, d.SubtaskIndex)] = &d
	return nil
}

func (r *memoryAnswers) GetDraft(_ context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) (*model.QuestionDraft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drafts[answerKey(userEmail, projectID, taskIndex, subtaskIndex)]
	if !ok {
		return nil, util.ErrDraftNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memoryAnswers) DeleteDraft(_ context.Context, userEmail, projectID string, taskIndex, subtaskIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.drafts, answerKey(userEmail, projectID, taskIndex, subtaskIndex))
	return nil
}

func cloneProject(p *model.Project, withContext bool) *model.Project {
	cp := *p
	cp.ContextLog = nil
	if withContext && len(p.ContextLog) > 0 {
		cp.ContextLog = append([]model.ContextEntry(nil), p.ContextLog...)
	}
	return &cp
}

func sortByRecency(projects []*model.Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].ProjectID < projects[j].ProjectID
		}
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
}
