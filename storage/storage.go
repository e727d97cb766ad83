package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"pulseboard/domain"
)

// NotFoundError is returned when a task id does not exist for the user.
// Its TaskNotFound marker lets callers detect it without importing this
// package's concrete type.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

// TaskNotFound marks this error for interface-based detection.
func (*NotFoundError) TaskNotFound() {}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to underlying persistence mechanisms. Tasks and
// settings live in table storage partitioned by user id; committed task
// events go to a queue for downstream consumers.
type Storage struct {
	taskTable     *aztables.Client
	settingsTable *aztables.Client
	eventQueue    queueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, settingsTable, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	st := svc.NewClient(settingsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, settingsTable: st, eventQueue: eq}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func encodeTaskEntity(userID string, t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity:      aztables.Entity{PartitionKey: userID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		UserID:      ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		CreatedAt:   ent.CreatedAt,
		UpdatedAt:   ent.UpdatedAt,
	}, nil
}

// FetchTasks retrieves all tasks for the provided user.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// GetTask retrieves a single task, or a NotFoundError.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		return domain.Task{}, mapNotFound(err, id)
	}
	return decodeTaskEntity(resp.Value)
}

// UpsertTask inserts or replaces the task for the user.
func (s *Storage) UpsertTask(ctx context.Context, userID string, t domain.Task) error {
	data, err := encodeTaskEntity(userID, t)
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpsertEntity(ctx, data, nil)
	return err
}

// DeleteTask removes the task, or returns a NotFoundError.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, userID, id, nil); err != nil {
		return mapNotFound(err, id)
	}
	return nil
}

type settingsEntity struct {
	aztables.Entity
	TasksPerColumn int  `json:"TasksPerColumn"`
	ShowDoneTasks  bool `json:"ShowDoneTasks"`
}

func decodeSettingsEntity(data []byte) (domain.Settings, error) {
	var ent settingsEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{TasksPerColumn: ent.TasksPerColumn, ShowDoneTasks: ent.ShowDoneTasks}, nil
}

// FetchSettings returns the user's board settings. Users without a settings
// row get the defaults.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	resp, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return defaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	return decodeSettingsEntity(resp.Value)
}

// SaveSettings stores the user's board settings.
func (s *Storage) SaveSettings(ctx context.Context, userID string, settings domain.Settings) error {
	data, err := json.Marshal(settingsEntity{
		Entity:         aztables.Entity{PartitionKey: userID, RowKey: userID},
		TasksPerColumn: settings.TasksPerColumn,
		ShowDoneTasks:  settings.ShowDoneTasks,
	})
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, data, nil)
	return err
}

func defaultSettings() domain.Settings {
	return domain.Settings{TasksPerColumn: 30, ShowDoneTasks: true}
}

// EnqueueEvents sends the given events to the event queue.
func (s *Storage) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	for _, ev := range events {
		env := domain.EventEnvelope{UserID: userID, Event: ev}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func mapNotFound(err error, id string) error {
	if isNotFound(err) {
		return &NotFoundError{ID: id}
	}
	return err
}
