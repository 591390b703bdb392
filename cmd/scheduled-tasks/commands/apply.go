package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/scheduled-tasks/internal/dao/deploymentdao"
	"github.com/savaki/scheduled-tasks/internal/dao/lockdao"
	"github.com/savaki/scheduled-tasks/internal/di"
	apperrors "github.com/savaki/scheduled-tasks/internal/errors"
	"github.com/savaki/scheduled-tasks/internal/services"
	"github.com/savaki/scheduled-tasks/internal/synth"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

// ApplyCommand deploys the project.
func ApplyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Deploy the project's stack",
		Description: `Synthesize the stack, create a change set and execute it, waiting until the
stack settles. When a lock table is configured the apply holds a per stack
lock so two applies of the same stack never overlap.

Examples:
  scheduled-tasks apply --env dev --docker-tag 3f2a9c1
  scheduled-tasks apply --env prd --docker-tag 3f2a9c1 --lock-table scheduled-tasks-locks`,
		Flags: append(deployFlags(),
			&cli.StringFlag{
				Name:    "lock-table",
				Usage:   "DynamoDB table holding deploy locks",
				EnvVars: []string{"LOCK_TABLE"},
			},
			&cli.BoolFlag{
				Name:  "force-unlock",
				Usage: "Remove a lock left behind by an interrupted apply before acquiring",
			},
		),
		Action: applyAction,
	}
}

func applyAction(c *cli.Context) error {
	ctx := c.Context
	logger := zerolog.Ctx(ctx)

	s, err := newSession(c)
	if err != nil {
		return err
	}

	out, err := s.synth(ctx, c.String("docker-tag"))
	if err != nil {
		return err
	}

	stacks, err := di.Get[*services.StackService](s.container)
	if err != nil {
		return err
	}

	actor := s.actor(ctx)

	release, err := s.lock(ctx, out.StackName, actor, c.Bool("force-unlock"))
	if err != nil {
		return err
	}
	defer release()

	record := s.record(ctx, out, actor)

	cs, err := stacks.Preview(ctx, deployment(out))
	if err != nil {
		record.finish(ctx, nil, nil, err)
		return err
	}
	displayPreview(os.Stdout, previewResult{ChangeSet: cs})

	if err := stacks.Apply(ctx, cs); err != nil {
		status, _ := stacks.Status(ctx, out.StackName)
		record.finish(ctx, cs, status, err)
		return err
	}

	status, err := stacks.Status(ctx, out.StackName)
	if err != nil {
		record.finish(ctx, cs, nil, err)
		return err
	}
	if status.Failed {
		err := fmt.Errorf("stack %s is %s", status.StackName, status.Status)
		record.finish(ctx, cs, status, err)
		return err
	}
	record.finish(ctx, cs, status, nil)

	logger.Info().
		Str("stack_name", status.StackName).
		Str("status", status.Status).
		Str("image_tag", out.ImageTag).
		Str("image_digest", out.ImageDigest).
		Strs("tasks", out.Tasks).
		Msg("Deployed scheduled tasks")

	return nil
}

// actor names the caller for locks and history.
func (s *session) actor(ctx context.Context) string {
	identity, err := di.Get[*services.IdentityService](s.container)
	if err != nil {
		return "unknown"
	}
	caller, err := identity.Caller(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to identify caller")
		return "unknown"
	}
	return caller.ARN
}

// lock acquires the deploy lock of stack when locking is configured and
// returns the function releasing it.
func (s *session) lock(ctx context.Context, stack, actor string, force bool) (func(), error) {
	logger := zerolog.Ctx(ctx)

	dao, err := di.Get[*lockdao.DAO](s.container)
	if err != nil {
		return nil, err
	}
	if dao == nil {
		return func() {}, nil
	}

	if force {
		if err := dao.Delete(ctx, lockdao.NewID(s.env, stack)); err != nil {
			return nil, err
		}
		logger.Warn().Str("stack", stack).Msg("Removed deploy lock")
	}

	owner := ksuid.New().String()
	holder, acquired, err := dao.Acquire(ctx, lockdao.AcquireInput{
		Env:   s.env,
		Stack: stack,
		Owner: owner,
		Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		since := time.Unix(holder.AcquiredAt, 0).UTC().Format(time.RFC3339)
		return nil, fmt.Errorf("%w: %s is locked by %s since %s", apperrors.ErrLockHeld, stack, holder.Actor, since)
	}

	logger.Info().Str("stack", stack).Str("owner", owner).Msg("Acquired deploy lock")

	return func() {
		// release even when the apply's context was cancelled
		ctx := context.WithoutCancel(ctx)
		err := dao.Release(ctx, lockdao.ReleaseInput{
			ID:    holder.GetID(),
			Owner: owner,
		})
		if err != nil {
			logger.Error().Err(err).Str("stack", stack).Msg("Failed to release deploy lock")
			return
		}
		logger.Info().Str("stack", stack).Msg("Released deploy lock")
	}, nil
}

// history tracks one apply in the deployment table. A zero history, used
// when no table is configured or the record could not be created, ignores
// every call.
type history struct {
	dao *deploymentdao.DAO
	id  deploymentdao.ID
}

func (s *session) record(ctx context.Context, out *synth.Output, actor string) history {
	dao, err := di.Get[*deploymentdao.DAO](s.container)
	if err != nil || dao == nil {
		return history{}
	}

	created, err := dao.Create(ctx, deploymentdao.CreateInput{
		Env:         s.env,
		Stack:       out.StackName,
		ImageTag:    out.ImageTag,
		ImageDigest: out.ImageDigest,
		Tasks:       out.Tasks,
		Actor:       actor,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to record deployment")
		return history{}
	}
	return history{dao: dao, id: created.GetID()}
}

func (h history) finish(ctx context.Context, cs *services.ChangeSet, status *services.StackStatus, applyErr error) {
	if h.dao == nil {
		return
	}

	input := deploymentdao.UpdateInput{
		ID:     h.id,
		Status: deploymentdao.StatusSuccess,
	}
	if cs != nil {
		input.ChangeSet = cs.Name
	}
	if status != nil {
		input.StatusReason = status.Status
		for _, event := range status.FailedEvents {
			input.StackEvents = append(input.StackEvents, fmt.Sprintf("%s: %s", event.LogicalID, event.Reason))
		}
	}
	if applyErr != nil {
		input.Status = deploymentdao.StatusFailed
		input.StatusReason = applyErr.Error()
	}

	if err := h.dao.UpdateStatus(context.WithoutCancel(ctx), input); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("deployment", h.id.String()).Msg("Failed to update deployment record")
	}
}
