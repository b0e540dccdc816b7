package shopify

import (
	"context"
	"errors"
	"strconv"
	"strings"

	domain "github.com/shelfsort/api/internal/domain"
)

const collectionReorderMutation = `
mutation collectionReorderProducts($id: ID!, $moves: [MoveInput!]!) {
	collectionReorderProducts(id: $id, moves: $moves) {
		job { id done }
		userErrors { field message }
	}
}`

const collectionSortOrderMutation = `
mutation collectionUpdate($input: CollectionInput!) {
	collectionUpdate(input: $input) {
		userErrors { field message }
	}
}`

const jobQuery = `
query job($id: ID!) {
	job(id: $id) { id done }
}`

type jobPayload struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
}

type collectionReorderData struct {
	CollectionReorderProducts struct {
		Job        *jobPayload `json:"job"`
		UserErrors []UserError `json:"userErrors,omitempty"`
	} `json:"collectionReorderProducts"`
}

type collectionUpdateData struct {
	CollectionUpdate struct {
		UserErrors []UserError `json:"userErrors,omitempty"`
	} `json:"collectionUpdate"`
}

type jobData struct {
	Job *jobPayload `json:"job"`
}

// SetManualSortOrder switches the collection to MANUAL sorting. Reorder moves
// only take effect on manually sorted collections.
func (c *Client) SetManualSortOrder(ctx context.Context, collectionID string) error {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return errors.New("shopify: collection id is required")
	}

	var data collectionUpdateData
	err := c.graphql(ctx, collectionSortOrderMutation, map[string]any{
		"input": map[string]any{
			"id":        collectionID,
			"sortOrder": "MANUAL",
		},
	}, &data)
	if err != nil {
		return err
	}
	return userErrorsToError("collectionUpdate", data.CollectionUpdate.UserErrors)
}

// ReorderProducts submits one batch of position moves. The API applies moves
// asynchronously; a returned job handle must be polled for completion. An
// empty job ID with a nil error means the mutation completed synchronously.
func (c *Client) ReorderProducts(ctx context.Context, collectionID string, moves []domain.ProductMove) (string, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return "", errors.New("shopify: collection id is required")
	}
	if len(moves) == 0 {
		return "", nil
	}
	if len(moves) > MaxPageSize {
		return "", errors.New("shopify: at most 250 moves per mutation")
	}

	movesPayload := make([]map[string]any, 0, len(moves))
	for _, move := range moves {
		movesPayload = append(movesPayload, map[string]any{
			"id":          move.ProductID,
			"newPosition": strconv.Itoa(move.Position),
		})
	}

	var data collectionReorderData
	err := c.graphql(ctx, collectionReorderMutation, map[string]any{
		"id":    collectionID,
		"moves": movesPayload,
	}, &data)
	if err != nil {
		return "", err
	}
	if err := userErrorsToError("collectionReorderProducts", data.CollectionReorderProducts.UserErrors); err != nil {
		return "", err
	}

	job := data.CollectionReorderProducts.Job
	if job == nil || job.Done {
		return "", nil
	}
	return job.ID, nil
}

// JobStatus reports the current state of an async reorder job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (domain.ReorderJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.ReorderJob{}, errors.New("shopify: job id is required")
	}

	var data jobData
	if err := c.graphql(ctx, jobQuery, map[string]any{"id": jobID}, &data); err != nil {
		return domain.ReorderJob{}, err
	}
	if data.Job == nil {
		// Completed jobs age out of the API; treat a vanished job as done.
		return domain.ReorderJob{ID: jobID, Status: domain.ReorderJobDone}, nil
	}

	job := domain.ReorderJob{ID: data.Job.ID}
	if data.Job.Done {
		job.Status = domain.ReorderJobDone
	} else {
		job.Status = domain.ReorderJobPending
	}
	return job, nil
}
