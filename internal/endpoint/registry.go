// internal/endpoint/registry.go
package endpoint

import (
	"encoding/json"
	"net/http"

	"github.com/FairForge/trailload/internal/auth"
)

// Endpoint keys.
const (
	TrailsShowcase            = "trails_showcase"
	TrailsList                = "trails_list"
	TrailsDetail              = "trails_detail"
	TrailsSections            = "trails_sections"
	TrailsSectionItems        = "trails_section_items"
	TrailsSectionsWithItems   = "trails_sections_with_items"
	TrailsIncludedItems       = "trails_included_items"
	TrailsRequirements        = "trails_requirements"
	TrailsAudience            = "trails_audience"
	TrailsLearn               = "trails_learn"
	TrailItemDetail           = "trail_item_detail"
	AuthLogin                 = "auth_login"
	UserTrailEnroll           = "user_trail_enroll"
	UserTrailProgress         = "user_trail_progress"
	UserTrailItemsProgress    = "user_trail_items_progress"
	UserTrailSectionsProgress = "user_trail_sections_progress"
	MeProfile                 = "me_profile"
	TrailItemProgress         = "trail_item_progress"
	TrailFormSubmission       = "trail_form_submission"
)

// ReadKeys are the public and per-user GET endpoints, in load-test order.
var ReadKeys = []string{
	TrailsShowcase,
	TrailsList,
	TrailsDetail,
	TrailsSections,
	TrailsSectionItems,
	TrailsSectionsWithItems,
	TrailsIncludedItems,
	TrailsRequirements,
	TrailsAudience,
	TrailsLearn,
	TrailItemDetail,
	UserTrailProgress,
	UserTrailItemsProgress,
	UserTrailSectionsProgress,
	MeProfile,
}

// WriteKeys are the mutating endpoints.
var WriteKeys = []string{
	UserTrailEnroll,
	TrailItemProgress,
	TrailFormSubmission,
}

// ProgressKeys are the per-user progress reads probed together.
var ProgressKeys = []string{
	UserTrailProgress,
	UserTrailItemsProgress,
	UserTrailSectionsProgress,
}

func fixed(path string) func(*RunContext) string {
	return func(*RunContext) string { return path }
}

func trailPath(suffix string) func(*RunContext) string {
	return func(rc *RunContext) string { return "/trails/" + rc.Dataset.TrailID + suffix }
}

func userTrailPath(suffix string) func(*RunContext) string {
	return func(rc *RunContext) string { return "/user-trails/" + rc.Dataset.TrailID + suffix }
}

type formAnswer struct {
	QuestionID       string  `json:"question_id"`
	SelectedOptionID *string `json:"selected_option_id"`
	AnswerText       *string `json:"answer_text"`
}

func formSubmissionBody(rc *RunContext, _ Call) ([]byte, error) {
	freeText := "Benchmark answer"
	answers := make([]formAnswer, 0, len(rc.Dataset.FormQuestions))
	for _, q := range rc.Dataset.FormQuestions {
		answer := formAnswer{QuestionID: q.ID}
		if q.FirstOptionID != "" {
			option := q.FirstOptionID
			answer.SelectedOptionID = &option
		} else {
			answer.AnswerText = &freeText
		}
		answers = append(answers, answer)
	}
	return json.Marshal(map[string]any{
		"duration_seconds": 30,
		"answers":          answers,
	})
}

// DefaultRegistry returns the learning-platform endpoint table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{
			Key: TrailsShowcase, Name: "GET /trails/showcase", Method: http.MethodGet,
			Path: fixed("/trails/showcase"), Phase: PhaseRead,
		},
		Definition{
			Key: TrailsList, Name: "GET /trails", Method: http.MethodGet,
			Path: fixed("/trails/"), Phase: PhaseRead,
		},
		Definition{
			Key: TrailsDetail, Name: "GET /trails/:id", Method: http.MethodGet,
			Path: trailPath(""), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsSections, Name: "GET /trails/:id/sections", Method: http.MethodGet,
			Path: trailPath("/sections"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsSectionItems, Name: "GET /trails/:id/sections/:sectionId/items", Method: http.MethodGet,
			Path: func(rc *RunContext) string {
				return "/trails/" + rc.Dataset.TrailID + "/sections/" + rc.Dataset.SectionID + "/items"
			},
			Requires: []string{"dataset.trailId", "dataset.sectionId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsSectionsWithItems, Name: "GET /trails/:id/sections-with-items", Method: http.MethodGet,
			Path: trailPath("/sections-with-items"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsIncludedItems, Name: "GET /trails/:id/included-items", Method: http.MethodGet,
			Path: trailPath("/included-items"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsRequirements, Name: "GET /trails/:id/requirements", Method: http.MethodGet,
			Path: trailPath("/requirements"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsAudience, Name: "GET /trails/:id/audience", Method: http.MethodGet,
			Path: trailPath("/audience"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailsLearn, Name: "GET /trails/:id/learn", Method: http.MethodGet,
			Path: trailPath("/learn"), Requires: []string{"dataset.trailId"}, Phase: PhaseRead,
		},
		Definition{
			Key: TrailItemDetail, Name: "GET /trails/:id/items/:itemId", Method: http.MethodGet,
			Path:     func(rc *RunContext) string { return "/trails/" + rc.Dataset.TrailID + "/items/" + rc.Dataset.ItemID },
			Requires: []string{"dataset.trailId", "dataset.itemId"}, Phase: PhaseRead,
		},
		Definition{
			Key: AuthLogin, Name: "POST /auth/login", Method: http.MethodPost,
			Path:     fixed("/auth/login"),
			Requires: []string{"credentials.email"},
			Headers:  map[string]string{"Content-Type": "application/json"},
			Body: func(rc *RunContext, call Call) ([]byte, error) {
				return auth.LoginBody(rc.Credential(call)), nil
			},
			// Logins past the per-account limit are expected under load.
			Acceptable: AllowStatuses(http.StatusOK, http.StatusTooManyRequests),
			Phase:      PhaseAuth,
		},
		Definition{
			Key: UserTrailEnroll, Name: "POST /user-trails/:trailId/enroll", Method: http.MethodPost,
			Path: userTrailPath("/enroll"), Requires: []string{"dataset.trailId"},
			AuthRequired: true, RequireCSRF: true, Phase: PhaseWrite,
		},
		Definition{
			Key: UserTrailProgress, Name: "GET /user-trails/:trailId/progress", Method: http.MethodGet,
			Path: userTrailPath("/progress"), Requires: []string{"dataset.trailId"},
			AuthRequired: true, Phase: PhaseRead,
		},
		Definition{
			Key: UserTrailItemsProgress, Name: "GET /user-trails/:trailId/items-progress", Method: http.MethodGet,
			Path: userTrailPath("/items-progress"), Requires: []string{"dataset.trailId"},
			AuthRequired: true, Phase: PhaseRead,
		},
		Definition{
			Key: UserTrailSectionsProgress, Name: "GET /user-trails/:trailId/sections-progress", Method: http.MethodGet,
			Path: userTrailPath("/sections-progress"), Requires: []string{"dataset.trailId"},
			AuthRequired: true, Phase: PhaseRead,
		},
		Definition{
			Key: MeProfile, Name: "GET /me", Method: http.MethodGet,
			Path: fixed("/me"), AuthRequired: true, Phase: PhaseRead,
		},
		Definition{
			Key: TrailItemProgress, Name: "PUT /trails/:id/items/:itemId/progress", Method: http.MethodPut,
			Path: func(rc *RunContext) string {
				return "/trails/" + rc.Dataset.TrailID + "/items/" + rc.Dataset.ItemID + "/progress"
			},
			Requires:     []string{"dataset.trailId", "dataset.itemId"},
			AuthRequired: true, RequireCSRF: true,
			Body: func(*RunContext, Call) ([]byte, error) {
				return json.Marshal(map[string]any{"status": "COMPLETED", "progress_value": 100})
			},
			Phase: PhaseWrite,
		},
		Definition{
			Key: TrailFormSubmission, Name: "POST /trails/:id/items/:itemId/form-submissions", Method: http.MethodPost,
			Path: func(rc *RunContext) string {
				return "/trails/" + rc.Dataset.TrailID + "/items/" + rc.Dataset.FormItemID + "/form-submissions"
			},
			Requires:     []string{"dataset.trailId", "dataset.formItemId", "dataset.formQuestions"},
			AuthRequired: true, RequireCSRF: true,
			Body:         formSubmissionBody,
			Phase:        PhaseWrite,
		},
	)
}
