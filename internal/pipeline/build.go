package pipeline

import (
	"PS3DL/internal/archive"
	"PS3DL/internal/config"
	"PS3DL/internal/decrypt"
	"PS3DL/internal/descriptor"
	"PS3DL/internal/history"
	"PS3DL/internal/keys"
	"PS3DL/internal/logger"
	"PS3DL/internal/progress"
	"PS3DL/internal/transfer"
)

// Build wires the production stages from cfg. repo may be nil to run without a ledger.
func Build(cfg *config.Config, log logger.Logger, reporter progress.Reporter, repo history.Repository, opts ...Option) (*Pipeline, error) {
	client := transfer.NewHTTPClient(cfg.Download.RequestTimeout, cfg.Download.ConnectTimeout)

	resolver, err := keys.NewResolver(cfg.URLs.KeysBase, cfg.KeyCachePath(), log,
		keys.WithHTTPClient(client),
		keys.WithSuffix(cfg.Keys.Suffix),
		keys.WithMaxPackageBytes(cfg.Keys.MaxPackageBytes),
		keys.WithUserAgent(cfg.URLs.UserAgent),
	)
	if err != nil {
		return nil, err
	}

	manager, err := transfer.NewManager(transfer.Config{
		MaxRetries:   cfg.Download.MaxRetries,
		RetryDelay:   cfg.Download.RetryDelay,
		ProbeTimeout: cfg.Download.ProbeTimeout,
	}, log,
		transfer.WithHTTPClient(client),
		transfer.WithProgressReporter(reporter),
		transfer.WithUserAgent(cfg.URLs.UserAgent),
	)
	if err != nil {
		return nil, err
	}

	supervisor, err := decrypt.NewSupervisor(decrypt.Config{
		BinaryPath:   cfg.DecryptorPath(),
		Mode:         cfg.Decryption.Mode,
		KeyType:      cfg.Decryption.KeyType,
		BuildCommand: cfg.Decryption.BuildCommand,
	}, log, decrypt.WithProgressReporter(reporter))
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Keys:      resolver,
		Transfer:  manager,
		Extractor: archive.NewExtractor(log, archive.WithProgressReporter(reporter)),
		Decryptor: supervisor,
		History:   repo,
	}
	if cfg.Descriptor.IsEnabled() {
		source := descriptor.NewArchiveSource(cfg.Descriptor.Helper, cfg.Descriptor.Entry, nil)
		deps.Renamer = descriptor.NewRenamer(source, log)
	}

	return New(cfg, deps, log, opts...)
}
