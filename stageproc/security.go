package stageproc

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Placeholders substituted into stage command templates.
const (
	PlaceholderEpisodeID   = "${EPISODE_ID}"
	PlaceholderPodcastSlug = "${PODCAST_SLUG}"
	PlaceholderEpisodeSlug = "${EPISODE_SLUG}"
	PlaceholderWorkDir     = "${WORK_DIR}"
)

// SplitCommand securely splits a command template into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// ValidateArgs checks split template arguments for shell-like metacharacters.
// exec.Command never passes them to a shell, but a template carrying them is
// almost certainly a configuration mistake.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		stripped := arg
		for _, ph := range []string{
			PlaceholderEpisodeID,
			PlaceholderPodcastSlug,
			PlaceholderEpisodeSlug,
			PlaceholderWorkDir,
		} {
			stripped = strings.ReplaceAll(stripped, ph, "")
		}
		if strings.ContainsAny(stripped, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// substitute replaces all placeholders in one argument.
func substitute(arg, episodeID, podcastSlug, episodeSlug, workDir string) string {
	arg = strings.ReplaceAll(arg, PlaceholderEpisodeID, episodeID)
	arg = strings.ReplaceAll(arg, PlaceholderPodcastSlug, podcastSlug)
	arg = strings.ReplaceAll(arg, PlaceholderEpisodeSlug, episodeSlug)
	arg = strings.ReplaceAll(arg, PlaceholderWorkDir, workDir)
	return arg
}
