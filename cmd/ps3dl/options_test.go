package main

import (
	"bytes"
	"errors"
	"testing"

	apperrors "PS3DL/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, _, err := parseOptions([]string{
		"--title", "Example Game (USA)", "-r", "USA", "--size", "12 GiB",
		"--refresh-keys", "--no-rename", "-v",
	})
	require.NoError(t, err)

	assert.Equal(t, "Example Game (USA)", opts.title)
	assert.Equal(t, "USA", opts.region)
	assert.Equal(t, "12 GiB", opts.size)
	assert.True(t, opts.refreshKeys)
	assert.True(t, opts.noRename)
	assert.True(t, opts.verbose)
	assert.False(t, opts.jsonLogs)
}

func TestParseOptionsErrors(t *testing.T) {
	_, _, err := parseOptions([]string{"--unknown"})
	assert.Error(t, err)

	_, _, err = parseOptions([]string{"--title", "x", "extra"})
	assert.EqualError(t, err, "unexpected argument: extra")

	opts, _, err := parseOptions([]string{"-h"})
	require.NoError(t, err)
	assert.True(t, opts.help)
}

func TestResolveConfigPath(t *testing.T) {
	env := func(values map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := values[k]
			return v, ok
		}
	}

	assert.Equal(t, "a.yaml", resolveConfigPath(options{configPath: "a.yaml"}, env(map[string]string{"PS3DL_CONFIG": "b.yaml"})))
	assert.Equal(t, "b.yaml", resolveConfigPath(options{}, env(map[string]string{"PS3DL_CONFIG": " b.yaml "})))
	assert.Equal(t, "", resolveConfigPath(options{}, env(nil)))
}

type scriptedPrompter struct {
	answers map[string]string
	asked   []string
}

func (s *scriptedPrompter) Ask(label string) (string, error) {
	s.asked = append(s.asked, label)
	if answer, ok := s.answers[label]; ok {
		return answer, nil
	}
	return "", errors.New("^C")
}

func TestBuildTargetFromFlags(t *testing.T) {
	target, err := buildTarget(options{title: "Example Game (USA).zip", region: "USA", size: "1 GiB"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Example Game (USA)", target.ID)
	assert.Equal(t, "Example Game (USA).zip", target.RemoteLink, "link defaults to the title archive")
	assert.Equal(t, "usa-example_game.iso", target.ArtifactName())
}

func TestBuildTargetRequiresTitleWithoutTerminal(t *testing.T) {
	_, err := buildTarget(options{}, nil)
	assert.EqualError(t, err, "--title is required")
}

func TestBuildTargetPrompts(t *testing.T) {
	p := &scriptedPrompter{answers: map[string]string{
		"Title":        "Example Game",
		"Archive link": "Example%20Game.zip",
	}}

	target, err := buildTarget(options{id: "BLUS12345"}, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Title", "Archive link"}, p.asked)
	assert.Equal(t, "BLUS12345", target.ID)
	assert.Equal(t, "Example%20Game.zip", target.RemoteLink)

	_, err = buildTarget(options{}, &scriptedPrompter{})
	assert.ErrorContains(t, err, "failed to read title")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(apperrors.NotFoundError(apperrors.CodeKeyNotFound, "missing", nil)))
	assert.Equal(t, 4, exitCode(apperrors.DependencyError(apperrors.CodeBinaryMissing, "missing", nil)))
	assert.Equal(t, 5, exitCode(apperrors.NetworkError(apperrors.CodeTransferFailed, "failed", nil)))
	assert.Equal(t, 6, exitCode(apperrors.ProcessError(apperrors.CodeTimeout, "timeout", nil)))
	assert.Equal(t, 1, exitCode(errors.New("plain")))
}

func TestPrintHelp(t *testing.T) {
	_, flagSet, err := parseOptions(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	printHelp(&buf, flagSet)
	assert.Contains(t, buf.String(), "--refresh-keys")
	assert.Contains(t, buf.String(), "PS3DL_DECRYPTOR")
}
