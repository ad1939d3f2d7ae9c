// internal/dataset/hydrator.go
package dataset

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/client"
)

// Hydrator crawls read endpoints to fill a Dataset.
type Hydrator struct {
	client *client.Client
	logger *zap.Logger
}

// NewHydrator creates a hydrator.
func NewHydrator(c *client.Client, logger *zap.Logger) *Hydrator {
	return &Hydrator{client: c, logger: logger}
}

// Hydrate discovers a trail, its first section and item, and the first
// form item with its questions. It never fails: any error status logs a
// warning and returns what was found so far, and endpoints depending on
// the missing fields are skipped.
func (h *Hydrator) Hydrate(ctx context.Context, session *auth.Context) Dataset {
	var ds Dataset
	headers := map[string]string{"Accept": "application/json"}
	if cookie := session.CookieHeader(); cookie != "" {
		headers["Cookie"] = cookie
	}

	resp := h.client.Get(ctx, "/trails/", headers)
	if !resp.OK() {
		h.logger.Warn("unable to list trails", zap.Int("status", resp.Status), zap.Error(resp.Err))
		return ds
	}
	trails, err := decodeTrails(resp.Body)
	if err != nil || len(trails) == 0 || trails[0].ID == "" {
		h.logger.Warn("no trails available to benchmark, dependent scenarios will be skipped", zap.Error(err))
		return ds
	}
	ds.TrailID = string(trails[0].ID)

	resp = h.client.Get(ctx, "/trails/"+ds.TrailID+"/sections-with-items", headers)
	if !resp.OK() {
		h.logger.Warn("unable to load sections", zap.String("trail_id", ds.TrailID), zap.Int("status", resp.Status))
		return ds
	}
	var sections []section
	if err := resp.JSON(&sections); err != nil {
		h.logger.Warn("unexpected sections payload", zap.Error(err))
		return ds
	}
	if len(sections) > 0 {
		first := sections[0]
		ds.SectionID = string(first.ID)
		if len(first.Items) > 0 {
			ds.ItemID = string(first.Items[0].ID)
			ds.ItemType = first.Items[0].Type
			ds.ItemDurationSeconds = seconds(first.Items[0].DurationSeconds)
		}
	}
	ds.FormItemID = firstFormItem(sections)

	if ds.FormItemID == "" {
		h.logger.Warn("no form item found, form submissions will be skipped", zap.String("trail_id", ds.TrailID))
		return ds
	}

	resp = h.client.Get(ctx, "/trails/"+ds.TrailID+"/items/"+ds.FormItemID, headers)
	if !resp.OK() {
		h.logger.Warn("unable to load form item", zap.String("item_id", ds.FormItemID), zap.Int("status", resp.Status))
		return ds
	}
	var detail itemDetail
	if err := resp.JSON(&detail); err != nil {
		h.logger.Warn("unexpected form item payload", zap.Error(err))
		return ds
	}
	ds.FormQuestions = make([]FormQuestion, 0)
	if detail.Form != nil {
		for _, q := range detail.Form.Questions {
			question := FormQuestion{ID: string(q.ID)}
			if len(q.Options) > 0 {
				question.FirstOptionID = string(q.Options[0].ID)
			}
			ds.FormQuestions = append(ds.FormQuestions, question)
		}
	}

	h.logger.Info("dataset hydrated",
		zap.String("trail_id", ds.TrailID),
		zap.String("section_id", ds.SectionID),
		zap.String("item_id", ds.ItemID),
		zap.String("form_item_id", ds.FormItemID),
		zap.Int("form_questions", len(ds.FormQuestions)))
	return ds
}

// decodeTrails accepts {"trails": [...]} or a bare array.
func decodeTrails(body []byte) ([]trail, error) {
	var list trailList
	if err := json.Unmarshal(body, &list); err == nil && list.Trails != nil {
		return list.Trails, nil
	}
	var trails []trail
	if err := json.Unmarshal(body, &trails); err != nil {
		return nil, err
	}
	return trails, nil
}

func firstFormItem(sections []section) string {
	for _, s := range sections {
		for _, it := range s.Items {
			if it.Type == ItemTypeForm {
				return string(it.ID)
			}
		}
	}
	return ""
}
