package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	qport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

const ReconcileProjectChatsTaskType = "chat:reconcile_project_chats"

// ReconcileProjectChatsPayload names the user to reconcile for. An empty UserID reconciles for
// every member of every team.
type ReconcileProjectChatsPayload struct {
	UserID string `json:"userId,omitempty"`
}

func NewReconcileProjectChatsTask(p ReconcileProjectChatsPayload) (qport.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: ReconcileProjectChatsTaskType, Payload: b}, nil
}

func ReconcileProjectChatsHandler(f feed.Feed, clock schedule.Clock, logger *slog.Logger) qport.Handler {
	registry := usecase.NewConversationRegistry(f, clock, logger)
	return func(ctx context.Context, t qport.Task) error {
		var p ReconcileProjectChatsPayload
		if len(t.Payload) > 0 {
			if err := json.Unmarshal(t.Payload, &p); err != nil {
				return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
			}
		}

		projects, teams, err := registry.LoadAdminData(ctx)
		if err != nil {
			return err
		}

		users := []string{p.UserID}
		if p.UserID == "" {
			users = teamMembers(teams)
		}

		var total usecase.ReconcileResult
		for _, uid := range users {
			existing, err := registry.List(ctx)
			if err != nil {
				return err
			}
			res, err := registry.ReconcileProjectChats(ctx, usecase.ReconcileInput{
				UserID:   uid,
				Projects: projects,
				Teams:    teams,
				Existing: existing,
			})
			if err != nil {
				return retryable(err)
			}
			total.Created = append(total.Created, res.Created...)
			total.Updated = append(total.Updated, res.Updated...)
			total.Archived = append(total.Archived, res.Archived...)
		}

		logger.Info("project chats reconciled",
			"users", len(users), "created", len(total.Created), "updated", len(total.Updated), "archived", len(total.Archived))
		return nil
	}
}

func RegisterReconcileProjectChatsTask(srv qport.Server, f feed.Feed, clock schedule.Clock, logger *slog.Logger) {
	srv.Register(ReconcileProjectChatsTaskType, ReconcileProjectChatsHandler(f, clock, logger))
}

func teamMembers(teams map[string]chat.Team) []string {
	var out []string
	for _, t := range teams {
		out = append(out, t.Members...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
