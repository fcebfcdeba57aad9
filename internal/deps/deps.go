package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"photopipe/internal/config"
)

// Requirement defines an external dependency photopipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// ToolRequirements lists the external tools workers invoke.
func ToolRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "DNG Converter",
			Command:     cfg.Tools.DNGConverter,
			Description: "Required for raw to DNG conversion",
		},
		{
			Name:        "ImageMagick",
			Command:     cfg.Tools.ImageMagick,
			Description: "Required for reference rendering and color correction",
		},
		{
			Name:        "RealityCapture",
			Command:     cfg.Tools.RealityCapture,
			Description: "Required for alignment and mesh construction",
		},
	}
}

// CheckTools evaluates the tool requirements for cfg.
func CheckTools(cfg *config.Config) []Status {
	return CheckBinaries(ToolRequirements(cfg))
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
