// internal/sandbox/store.go
package sandbox

import (
	"sync"

	"github.com/google/uuid"
)

// Option is a selectable answer of a form question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is one form question. Questions without options take free text.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// Form is attached to items of type FORM.
type Form struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Item is a unit of content inside a section.
type Item struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	DurationSeconds int    `json:"duration_seconds"`
	Form            *Form  `json:"form,omitempty"`
}

// Section groups items.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Trail is a course.
type Trail struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Showcase     bool      `json:"showcase"`
	Audience     []string  `json:"audience"`
	Requirements []string  `json:"requirements"`
	Sections     []Section `json:"-"`
}

type user struct {
	Email    string
	Password string
	Username string
}

type session struct {
	Email string
	CSRF  string
}

type progressEntry struct {
	Status        string `json:"status"`
	ProgressValue int    `json:"progress_value"`
}

// store keeps all sandbox state in memory.
type store struct {
	mu          sync.RWMutex
	trails      []Trail
	users       map[string]user
	sessions    map[string]session
	enrollments map[string]map[string]bool
	progress    map[string]map[string]progressEntry
	submissions int
}

func newStore(trails []Trail) *store {
	return &store{
		trails:      trails,
		users:       make(map[string]user),
		sessions:    make(map[string]session),
		enrollments: make(map[string]map[string]bool),
		progress:    make(map[string]map[string]progressEntry),
	}
}

// DefaultTrails is the fixture catalogue: one trail with a video, a form
// with an option question and a free-text question, and a reading.
func DefaultTrails() []Trail {
	return []Trail{
		{
			ID:           "1",
			Name:         "Go for Backend Engineers",
			Showcase:     true,
			Audience:     []string{"backend engineers"},
			Requirements: []string{"basic programming"},
			Sections: []Section{
				{
					ID:    "10",
					Title: "Getting started",
					Items: []Item{
						{ID: "100", Title: "Welcome", Type: "VIDEO", DurationSeconds: 120},
						{
							ID: "101", Title: "Checkpoint", Type: "FORM", DurationSeconds: 300,
							Form: &Form{
								ID: "1000",
								Questions: []Question{
									{
										ID:     "5000",
										Prompt: "Which keyword starts a goroutine?",
										Options: []Option{
											{ID: "7000", Label: "go"},
											{ID: "7001", Label: "async"},
										},
									},
									{ID: "5001", Prompt: "What did you learn?", Options: []Option{}},
								},
							},
						},
					},
				},
				{
					ID:    "11",
					Title: "Concurrency",
					Items: []Item{
						{ID: "102", Title: "Channels", Type: "TEXT", DurationSeconds: 600},
					},
				},
			},
		},
		{
			ID:       "2",
			Name:     "Observability Basics",
			Audience: []string{"operators"},
			Sections: []Section{},
		},
	}
}

func (s *store) trail(id string) (*Trail, bool) {
	for i := range s.trails {
		if s.trails[i].ID == id {
			return &s.trails[i], true
		}
	}
	return nil, false
}

func (t *Trail) item(id string) (*Item, bool) {
	for si := range t.Sections {
		for ii := range t.Sections[si].Items {
			if t.Sections[si].Items[ii].ID == id {
				return &t.Sections[si].Items[ii], true
			}
		}
	}
	return nil, false
}

func (t *Trail) section(id string) (*Section, bool) {
	for i := range t.Sections {
		if t.Sections[i].ID == id {
			return &t.Sections[i], true
		}
	}
	return nil, false
}

func (t *Trail) itemCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Items)
	}
	return n
}

// register adds u, reporting false when the email is taken.
func (s *store) register(u user) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Email]; exists {
		return false
	}
	s.users[u.Email] = u
	return true
}

func (s *store) checkPassword(email, password string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	return ok && u.Password == password
}

func (s *store) user(email string) (user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	return u, ok
}

// openSession issues a session token and its CSRF token.
func (s *store) openSession(email string) (string, session) {
	token := uuid.NewString()
	sess := session{Email: email, CSRF: uuid.NewString()}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return token, sess
}

func (s *store) session(token string) (session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

// enroll reports whether the enrollment is new.
func (s *store) enroll(email, trailID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrollments[email] == nil {
		s.enrollments[email] = make(map[string]bool)
	}
	if s.enrollments[email][trailID] {
		return false
	}
	s.enrollments[email][trailID] = true
	return true
}

func (s *store) enrolled(email, trailID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enrollments[email][trailID]
}

func progressKey(trailID, itemID string) string {
	return trailID + "/" + itemID
}

func (s *store) setProgress(email, trailID, itemID string, p progressEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress[email] == nil {
		s.progress[email] = make(map[string]progressEntry)
	}
	s.progress[email][progressKey(trailID, itemID)] = p
}

func (s *store) itemProgress(email, trailID, itemID string) (progressEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[email][progressKey(trailID, itemID)]
	return p, ok
}

func (s *store) addSubmission() {
	s.mu.Lock()
	s.submissions++
	s.mu.Unlock()
}
