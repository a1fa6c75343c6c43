package runner

import (
	"errors"
	"strings"

	"github.com/aescanero/runnerd/internal/canonical"
	"github.com/aescanero/runnerd/internal/domain"
)

// Hash domains. Changing one changes every identity derived from it.
const (
	envDomain      = "runner/env/v1"
	instanceDomain = "runner/instance/v1"
	runnerDomain   = "runner/runner/v1"
)

// EnvHash hashes env independently of entry order.
func EnvHash(env []string) (string, error) {
	parsed, err := ParseEnv(env)
	if err != nil {
		return "", err
	}
	return canonical.HashValue(envDomain, parsed)
}

// InstanceHash identifies a service running with a given environment.
func InstanceHash(serviceHash, envHash string) (string, error) {
	return canonical.HashValue(instanceDomain, map[string]string{
		"envHash":     envHash,
		"serviceHash": serviceHash,
	})
}

// Hash derives the identity of the runner that address would start for
// serviceHash with env. It performs no I/O. Bad input is reported as a
// ValidationError whose Path names the offending argument.
func Hash(address, serviceHash string, env []string) (domain.RunnerIdentity, error) {
	if strings.TrimSpace(address) == "" {
		return domain.RunnerIdentity{}, &domain.ValidationError{Path: "address", Reason: "address is required"}
	}
	if strings.TrimSpace(serviceHash) == "" {
		return domain.RunnerIdentity{}, &domain.ValidationError{Path: "serviceHash", Reason: "service hash is required"}
	}

	envHash, err := EnvHash(env)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) && ve.Path == "" {
			ve.Path = "env"
		}
		return domain.RunnerIdentity{}, err
	}
	instanceHash, err := InstanceHash(serviceHash, envHash)
	if err != nil {
		return domain.RunnerIdentity{}, err
	}
	runnerHash, err := canonical.HashValue(runnerDomain, map[string]string{
		"address":      address,
		"instanceHash": instanceHash,
	})
	if err != nil {
		return domain.RunnerIdentity{}, err
	}

	return domain.RunnerIdentity{
		RunnerHash:   runnerHash,
		InstanceHash: instanceHash,
		EnvHash:      envHash,
	}, nil
}
