package job

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"trainhub/internal/apperrors"
)

// Validation limits
const (
	maxJobIDLength = 128
	maxNameLength  = 100
	maxEpochs      = 1000
	maxBatchSize   = 128
	minImageSize   = 320
	maxImageSize   = 1280
	maxCPU         = 64    // cores
	maxMemoryMB    = 65536 // 64GB
)

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ApplyDefaults sets default values for unspecified request fields.
func ApplyDefaults(req *Request) {
	if req.Training.Model == "" {
		req.Training.Model = "yolov8n"
	}
	if req.Training.Epochs <= 0 {
		req.Training.Epochs = 100
	}
	if req.Training.BatchSize <= 0 {
		req.Training.BatchSize = 16
	}
	if req.Training.ImageSize <= 0 {
		req.Training.ImageSize = 640
	}
	if req.Training.LearningRate <= 0 {
		req.Training.LearningRate = 0.01
	}
	if req.Training.Optimizer == "" {
		req.Training.Optimizer = "AdamW"
	}
	if req.BestMetric == "" {
		req.BestMetric = "map50"
	}
}

// Validate checks a submission is structurally well-formed. Does not
// modify the request; callers apply defaults first.
func Validate(req *Request) error {
	if req.ID == "" {
		return apperrors.InvalidConfig("id", "job ID is required")
	}
	if len(req.ID) > maxJobIDLength {
		return apperrors.InvalidConfig("id", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
	}
	if !jobIDPattern.MatchString(req.ID) {
		return apperrors.InvalidConfig("id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if len(req.Name) > maxNameLength {
		return apperrors.InvalidConfig("name", fmt.Sprintf("name exceeds maximum length of %d", maxNameLength))
	}

	if req.Dataset == "" {
		return apperrors.InvalidConfig("dataset", "dataset reference is required")
	}

	t := req.Training
	if t.Epochs > maxEpochs {
		return apperrors.InvalidConfig("training.epochs", fmt.Sprintf("epochs exceed maximum of %d", maxEpochs))
	}
	if t.BatchSize > maxBatchSize {
		return apperrors.InvalidConfig("training.batchSize", fmt.Sprintf("batch size exceeds maximum of %d", maxBatchSize))
	}
	if t.ImageSize < minImageSize || t.ImageSize > maxImageSize {
		return apperrors.InvalidConfig("training.imageSize", fmt.Sprintf("image size must be between %d and %d", minImageSize, maxImageSize))
	}
	if t.ImageSize%32 != 0 {
		return apperrors.InvalidConfig("training.imageSize", "image size must be a multiple of 32")
	}
	if t.LearningRate > 1 {
		return apperrors.InvalidConfig("training.learningRate", "learning rate must be in (0, 1]")
	}

	if req.Resources.CPU > maxCPU {
		return apperrors.InvalidConfig("resources.cpu", fmt.Sprintf("CPU exceeds maximum of %d cores", maxCPU))
	}
	if req.Resources.MemoryMB > maxMemoryMB {
		return apperrors.InvalidConfig("resources.memoryMb", fmt.Sprintf("memory exceeds maximum of %d MB", maxMemoryMB))
	}

	if req.Callback != nil {
		if err := validateURL(req.Callback.URL); err != nil {
			return apperrors.InvalidConfig("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
	}

	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
