package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidencije/coursework-api/internal/models"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
	"github.com/evidencije/coursework-api/pkg/jobs"
)

const plagiarismJobType = "plagiarism.check"

// Cap on how much of a file the scorer reads. Coursework files beyond this
// are scored on their prefix.
const maxScoreBytes = 4 << 20

type plagiarismRepository interface {
	FindBySubmissionID(ctx context.Context, submissionID string) (*models.PlagiarismCheck, error)
	Create(ctx context.Context, check *models.PlagiarismCheck) error
	UpdateResult(ctx context.Context, submissionID string, similarity *float64, status models.PlagiarismStatus) error
}

type submissionFileReader interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	ListPeerFilePaths(ctx context.Context, assignmentID, excludeSubmissionID string) ([]string, error)
}

type fileOpener interface {
	Open(ref string) (*os.File, error)
	Exists(ref string) bool
}

// PlagiarismService runs background similarity checks over submitted files.
// Enqueue records a PENDING check and hands the scoring to the worker pool;
// the score is the highest shingle overlap against the other submissions on
// the same assignment.
type PlagiarismService struct {
	repo        plagiarismRepository
	submissions submissionFileReader
	blobs       fileOpener
	queue       *jobs.Queue
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewPlagiarismService constructs the service and its queue. Start must be
// called before checks are enqueued.
func NewPlagiarismService(repo plagiarismRepository, submissions submissionFileReader, blobs fileOpener, opts jobs.Options, logger *zap.Logger) *PlagiarismService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PlagiarismService{repo: repo, submissions: submissions, blobs: blobs, logger: logger}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	s.queue = jobs.New("plagiarism", s.handle, opts)
	return s
}

// WithMetrics attaches job-outcome instrumentation. Nil is a no-op.
func (s *PlagiarismService) WithMetrics(metrics *MetricsService) *PlagiarismService {
	s.metrics = metrics
	return s
}

// Start launches the worker pool.
func (s *PlagiarismService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *PlagiarismService) Stop() {
	s.queue.Stop()
}

// EnqueueCheck records a PENDING check for the submission and schedules the
// scoring job.
func (s *PlagiarismService) EnqueueCheck(submissionID string) error {
	check := &models.PlagiarismCheck{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Status:       models.PlagiarismPending,
	}
	if err := s.repo.Create(context.Background(), check); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record plagiarism check")
	}
	return s.queue.Enqueue(jobs.Task{ID: uuid.NewString(), Kind: plagiarismJobType, Payload: submissionID})
}

func (s *PlagiarismService) handle(ctx context.Context, task jobs.Task) error {
	submissionID := task.Payload
	if submissionID == "" {
		s.logger.Error("plagiarism task without submission id", zap.String("task_id", task.ID))
		return nil
	}

	score, err := s.score(ctx, submissionID)
	if err != nil {
		s.metrics.RecordPlagiarismJob(false)
		if markErr := s.repo.UpdateResult(ctx, submissionID, nil, models.PlagiarismFailed); markErr != nil {
			s.logger.Error("failed to mark plagiarism check failed", zap.String("submission_id", submissionID), zap.Error(markErr))
		}
		return err
	}
	s.metrics.RecordPlagiarismJob(true)
	return s.repo.UpdateResult(ctx, submissionID, &score, models.PlagiarismDone)
}

func (s *PlagiarismService) score(ctx context.Context, submissionID string) (float64, error) {
	submission, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Withdrawn before the worker got to it.
			return 0, nil
		}
		return 0, err
	}
	if submission.FilePath == nil || !s.blobs.Exists(*submission.FilePath) {
		return 0, nil
	}

	own, err := s.readShingles(*submission.FilePath)
	if err != nil {
		return 0, err
	}
	if len(own) == 0 {
		return 0, nil
	}

	peers, err := s.submissions.ListPeerFilePaths(ctx, submission.AssignmentID, submissionID)
	if err != nil {
		return 0, err
	}

	var highest float64
	for _, ref := range peers {
		if !s.blobs.Exists(ref) {
			continue
		}
		peer, err := s.readShingles(ref)
		if err != nil {
			s.logger.Warn("skipping unreadable peer file", zap.String("ref", ref), zap.Error(err))
			continue
		}
		if score := jaccard(own, peer); score > highest {
			highest = score
		}
	}
	return highest * 100, nil
}

// readShingles tokenizes a file into overlapping 5-word shingles.
func (s *PlagiarismService) readShingles(ref string) (map[string]struct{}, error) {
	f, err := s.blobs.Open(ref)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(f, maxScoreBytes))
	if err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(string(raw)))
	const width = 5
	shingles := make(map[string]struct{})
	for i := 0; i+width <= len(words); i++ {
		shingles[strings.Join(words[i:i+width], " ")] = struct{}{}
	}
	return shingles, nil
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var common int
	for s := range small {
		if _, ok := large[s]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
