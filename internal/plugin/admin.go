package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keepmind9/neb/internal/command"
)

// AdminOnly wraps h so only the admins of env can run it. Everyone else gets
// a refusal naming the admins.
func AdminOnly(env Env, h command.Handler) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
		if env.IsAdmin(inv.Sender()) {
			return h(ctx, inv)
		}
		names, _ := json.Marshal(env.Admins)
		return command.Text(fmt.Sprintf("Sorry, only %s can do that.", names)), nil
	}
}
