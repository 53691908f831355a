package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"fablevoice-backend/internal/models"
	"fablevoice-backend/internal/pipeline"
	"fablevoice-backend/internal/repository"
	"fablevoice-backend/internal/services"
)

// Queue names. Generation messages carry a job id, analysis messages a story
// id; the payload is ids only, so a worker always loads fresh state from the
// database instead of trusting a possibly stale snapshot.
const (
	QueueGeneration = "queue:story-generation"
	QueueAnalysis   = "queue:story-analysis"
)

const maxRetries = 3

// TaskMessage is the queue envelope.
type TaskMessage struct {
	ID      uuid.UUID `json:"id"`
	Attempt int       `json:"attempt"`
}

// Enqueue pushes a task onto a queue.
func Enqueue(ctx context.Context, rdb *redis.Client, queue string, msg TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode task message: %w", err)
	}
	return rdb.LPush(ctx, queue, string(payload)).Err()
}

type Pool struct {
	redis        *redis.Client
	orchestrator *pipeline.Orchestrator
	jobRepo      *repository.JobRepo
	storyRepo    *repository.StoryRepo
	userRepo     *repository.UserRepo
	email        *services.EmailService
	workerCount  int
	stopChan     chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	orchestrator *pipeline.Orchestrator,
	jobRepo *repository.JobRepo,
	storyRepo *repository.StoryRepo,
	userRepo *repository.UserRepo,
	email *services.EmailService,
	workerCount int,
) *Pool {
	return &Pool{
		redis:        redisClient,
		orchestrator: orchestrator,
		jobRepo:      jobRepo,
		storyRepo:    storyRepo,
		userRepo:     userRepo,
		email:        email,
		workerCount:  workerCount,
		stopChan:     make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.recoverInFlight(context.Background())

	queues := []string{QueueGeneration, QueueAnalysis}
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i, queues)
	}

	log.Printf("started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

// recoverInFlight re-enqueues jobs stranded non-terminal by a crashed worker.
// BLPOP consumes messages, so a job interrupted mid-run has no message left;
// without this scan it would sit in a working state forever. Re-running a job
// that actually finished is harmless: the lock and the terminal guard both
// stop it.
func (p *Pool) recoverInFlight(ctx context.Context) {
	jobs, err := p.jobRepo.ListInFlight(ctx)
	if err != nil {
		log.Printf("in-flight recovery scan failed: %v", err)
		return
	}

	for _, job := range jobs {
		if err := Enqueue(ctx, p.redis, QueueGeneration, TaskMessage{ID: job.ID}); err != nil {
			log.Printf("failed to re-enqueue job %s: %v", job.ID, err)
			continue
		}
		log.Printf("re-enqueued in-flight job %s (status %s)", job.ID, job.Status)
	}
}

func (p *Pool) worker(id int, queues []string) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 30*time.Second, queues...).Result()
		if err != nil {
			continue // timeout or transient error
		}

		if len(result) < 2 {
			continue
		}
		queue := result[0]

		var msg TaskMessage
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			log.Printf("worker %d: failed to parse task message: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("task_lock:%s", msg.ID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 15*time.Minute).Result()
		if err != nil || !locked {
			continue // another worker holds this task
		}

		switch queue {
		case QueueGeneration:
			p.runGeneration(ctx, id, msg)
		case QueueAnalysis:
			p.runAnalysis(ctx, id, msg)
		default:
			log.Printf("worker %d: message on unknown queue %s", id, queue)
		}

		p.redis.Del(ctx, lockKey)
	}
}

func (p *Pool) runGeneration(ctx context.Context, workerID int, msg TaskMessage) {
	job, err := p.jobRepo.GetByID(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("worker %d: job %s no longer exists, dropping", workerID, msg.ID)
			return
		}
		p.retry(ctx, QueueGeneration, msg, fmt.Errorf("failed to load job: %w", err))
		return
	}

	if job.IsTerminal() {
		return
	}

	log.Printf("worker %d: processing job %s (attempt %d)", workerID, job.ID, msg.Attempt+1)

	err = p.orchestrator.Run(ctx, job)

	var infra *pipeline.InfraError
	switch {
	case err == nil:
		log.Printf("job %s completed", job.ID)
		go p.notifyReady(context.Background(), job)
	case errors.As(err, &infra):
		p.retry(ctx, QueueGeneration, msg, err)
	default:
		// The orchestrator already recorded the failure on the job row.
		log.Printf("job %s failed: %v", job.ID, err)
		go p.notifyFailed(context.Background(), job, err.Error())
	}
}

func (p *Pool) runAnalysis(ctx context.Context, workerID int, msg TaskMessage) {
	log.Printf("worker %d: re-analyzing story %s", workerID, msg.ID)

	err := p.orchestrator.Reanalyze(ctx, msg.ID)

	var infra *pipeline.InfraError
	switch {
	case err == nil:
		log.Printf("story %s re-analyzed", msg.ID)
	case errors.As(err, &infra):
		p.retry(ctx, QueueAnalysis, msg, err)
	default:
		// Recorded on the story row; later jobs fail fast until the next
		// explicit re-analysis.
		log.Printf("re-analysis of story %s failed: %v", msg.ID, err)
	}
}

// retry re-enqueues an infrastructure failure with exponential backoff. Stage
// failures never come through here; they are terminal for the job.
func (p *Pool) retry(ctx context.Context, queue string, msg TaskMessage, cause error) {
	msg.Attempt++

	if msg.Attempt >= maxRetries {
		log.Printf("task %s on %s exhausted %d attempts: %v", msg.ID, queue, msg.Attempt, cause)
		if queue == QueueGeneration {
			if err := p.jobRepo.Fail(ctx, msg.ID, "processing was interrupted repeatedly, please try again"); err != nil && !errors.Is(err, repository.ErrJobTerminal) {
				log.Printf("failed to record exhaustion of job %s: %v", msg.ID, err)
			}
		}
		return
	}

	if queue == QueueGeneration {
		if err := p.jobRepo.UpdateRetryCount(ctx, msg.ID, msg.Attempt); err != nil && !errors.Is(err, repository.ErrJobTerminal) {
			log.Printf("failed to record retry count for job %s: %v", msg.ID, err)
		}
	}

	backoff := time.Duration(1<<uint(msg.Attempt)) * time.Second
	log.Printf("task %s on %s failed (attempt %d), retrying in %s: %v", msg.ID, queue, msg.Attempt, backoff, cause)

	time.AfterFunc(backoff, func() {
		if err := Enqueue(context.Background(), p.redis, queue, msg); err != nil {
			log.Printf("failed to re-enqueue task %s: %v", msg.ID, err)
		}
	})
}

func (p *Pool) notifyReady(ctx context.Context, job *models.GenerationJob) {
	user, story, ok := p.loadNotifyTargets(ctx, job)
	if !ok {
		return
	}

	if err := p.email.SendStoryReadyEmail(user.Email, story.Title, job.ID.String()); err != nil {
		log.Printf("failed to send ready email to %s for job %s: %v", user.Email, job.ID, err)
	}
}

func (p *Pool) notifyFailed(ctx context.Context, job *models.GenerationJob, reason string) {
	user, story, ok := p.loadNotifyTargets(ctx, job)
	if !ok {
		return
	}

	if err := p.email.SendStoryFailedEmail(user.Email, story.Title, reason); err != nil {
		log.Printf("failed to send failure email to %s for job %s: %v", user.Email, job.ID, err)
	}
}

func (p *Pool) loadNotifyTargets(ctx context.Context, job *models.GenerationJob) (*models.User, *models.Story, bool) {
	if p.email == nil {
		return nil, nil, false
	}

	user, err := p.userRepo.GetByID(ctx, job.UserID)
	if err != nil {
		log.Printf("failed to load user %s for job %s notification: %v", job.UserID, job.ID, err)
		return nil, nil, false
	}
	if !user.NotifyOnComplete {
		return nil, nil, false
	}

	story, err := p.storyRepo.GetByID(ctx, job.StoryID)
	if err != nil {
		log.Printf("failed to load story %s for job %s notification: %v", job.StoryID, job.ID, err)
		return nil, nil, false
	}

	return user, story, true
}
