package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"pulseboard/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, events *EventSender, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(store, auth, logger))
	e.POST("/api/tasks", createTask(store, auth, deduper, events))
	e.PATCH("/api/tasks/:id", updateTask(store, auth, events))
	e.DELETE("/api/tasks/:id", deleteTask(store, auth, events))
	e.GET("/api/tasks/stream", streamTasks(store, auth))
	e.GET("/api/settings", getSettings(store, auth))
	e.PUT("/api/settings", putSettings(store, auth))
	e.GET("/api/insights", getInsights(store, auth))
	e.GET("/healthz", healthz(store))
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		//TODO: implement healthcheck
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.FetchTasks(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(store Storage, auth Authenticator, deduper Deduper, events *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var in domain.TaskInput
		if err := decodeBody(c.Request().Body, &in); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := in.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		idemKey := c.Request().Header.Get("Idempotency-Key")
		if idemKey != "" && deduper != nil {
			added, err := deduper.Add(ctx, userID, idemKey)
			if err != nil {
				c.Logger().Errorf("deduper add failed: %v", err)
				return c.String(http.StatusInternalServerError, "failed to create task")
			}
			if !added {
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		now := time.Now().UnixMilli()
		task := domain.Task{
			ID:          uuid.NewString(),
			UserID:      userID,
			Title:       in.Title,
			Description: in.Description,
			Status:      domain.StatusTodo,
			Priority:    in.Priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if task.Priority == "" {
			task.Priority = domain.PriorityMedium
		}

		if err := store.UpsertTask(ctx, userID, task); err != nil {
			if idemKey != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, userID, idemKey); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, idemKey, userID)
				}
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create task")
		}

		publishTaskEvent(events, userID, domain.EventTaskCreated, task)
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(store Storage, auth Authenticator, events *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")

		var patch domain.TaskPatch
		if err := decodeBody(c.Request().Body, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if patch.IsZero() {
			return c.String(http.StatusBadRequest, "empty patch")
		}
		if err := patch.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		existing, err := store.GetTask(ctx, userID, id)
		if err != nil {
			var nf TaskNotFoundError
			if errors.As(err, &nf) {
				return c.String(http.StatusNotFound, nf.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to update task")
		}

		updated := patch.Apply(existing)
		updated.UpdatedAt = time.Now().UnixMilli()
		if err := store.UpsertTask(ctx, userID, updated); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to update task")
		}

		eventType := domain.EventTaskUpdated
		if isMove(patch) {
			eventType = domain.EventTaskMoved
		}
		publishTaskEvent(events, userID, eventType, updated)
		return c.JSON(http.StatusOK, updated)
	}
}

// isMove reports whether the patch touches only the status column.
func isMove(patch domain.TaskPatch) bool {
	return patch.Status != nil && patch.Title == nil && patch.Description == nil && patch.Priority == nil
}

func deleteTask(store Storage, auth Authenticator, events *EventSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")

		if err := store.DeleteTask(ctx, userID, id); err != nil {
			var nf TaskNotFoundError
			if errors.As(err, &nf) {
				return c.String(http.StatusNotFound, nf.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to delete task")
		}

		if events != nil {
			events.Publish(userID, domain.Event{
				ID:         uuid.NewString(),
				EntityID:   id,
				EntityType: "task",
				Type:       domain.EventTaskDeleted,
				Timestamp:  nextTimestamp(),
			})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func putSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var settings domain.Settings
		if err := decodeBody(c.Request().Body, &settings); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if settings.TasksPerColumn <= 0 {
			return c.String(http.StatusBadRequest, "invalid tasksPerColumn")
		}

		if err := store.SaveSettings(ctx, userID, settings); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to save settings")
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func getInsights(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		tasks, err := store.FetchTasks(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		payload, err := domain.EncodeInsights(buildInsights(tasks, time.Now()))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to encode insights")
		}
		return c.JSONBlob(http.StatusOK, payload)
	}
}

func decodeBody(body io.Reader, out any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func publishTaskEvent(events *EventSender, userID, eventType string, task domain.Task) {
	if events == nil {
		return
	}
	data, err := sonic.Marshal(task)
	if err != nil {
		return
	}
	events.Publish(userID, domain.Event{
		ID:         uuid.NewString(),
		EntityID:   task.ID,
		EntityType: "task",
		Type:       eventType,
		Data:       data,
		Timestamp:  nextTimestamp(),
	})
}
