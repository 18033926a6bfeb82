package server

import (
	"encoding/json"
	"sort"

	"lightspeed/internal/domain"
	"lightspeed/internal/engine"
	"lightspeed/internal/quantity"
	"lightspeed/internal/research"
)

// Request payloads

type CountRequest struct {
	Count quantity.Quantity `json:"count" doc:"Number of units, as a decimal string"`
}

type ThrottleRequest struct {
	Throttle int `json:"throttle" minimum:"0" maximum:"100"`
}

type AutomationRequest struct {
	Mode     string             `json:"mode" enum:"off,build,recycle,expand,reduce"`
	Interval *quantity.Quantity `json:"interval,omitempty" doc:"Simulated seconds between batches"`
}

type DevLoginRequest struct {
	PlayerID string `json:"player_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type OutcomeResponse struct {
	OK        bool              `json:"ok"`
	Committed quantity.Quantity `json:"committed"`
}

type TaskResponse struct {
	ID          string            `json:"id"`
	Base        string            `json:"base"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Duration    quantity.Quantity `json:"duration"`
	Progress    quantity.Quantity `json:"progress"`
	Iteration   int               `json:"iteration"`
	Status      string            `json:"status" enum:"available,active,completed"`
}

type ResearchResponse struct {
	MultitaskFactor quantity.Quantity `json:"multitask_factor"`
	Items           []TaskResponse    `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SaveID     string         `json:"save_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type SaveResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastUpdate int64  `json:"last_update"`
	UpdatedAt  string `json:"updated_at"`
}

// Conversion helpers

func outcomeResponse(o engine.Outcome) OutcomeResponse {
	return OutcomeResponse(o)
}

func researchResponse(st domain.State, catalog research.Catalog) ResearchResponse {
	resp := ResearchResponse{MultitaskFactor: st.MultitaskFactor, Items: []TaskResponse{}}
	add := func(status string, tasks map[string]*domain.Task) {
		ids := make([]string, 0, len(tasks))
		for id := range tasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			t := tasks[id]
			item := TaskResponse{
				ID:          t.ID,
				Base:        t.Base,
				Title:       t.Title,
				Description: t.Description,
				Duration:    t.Duration,
				Progress:    t.Progress,
				Iteration:   t.Iteration,
				Status:      status,
			}
			if item.Description == "" {
				item.Description = catalog[t.Base].Description
			}
			resp.Items = append(resp.Items, item)
		}
	}
	add("active", st.Research.Active)
	add("available", st.Research.Available)
	add("completed", st.Research.Completed)
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SaveID:     e.SaveID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
