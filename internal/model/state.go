package model

import "time"

// TransferState tracks one fetch. Only the partial file's length survives a restart.
type TransferState struct {
	BytesOnDisk int64
	TotalBytes  int64
	TotalKnown  bool
	Attempt     int
}

// Remaining returns the number of bytes still missing, or -1 when the total is unknown.
func (s TransferState) Remaining() int64 {
	if !s.TotalKnown {
		return -1
	}
	if s.BytesOnDisk >= s.TotalBytes {
		return 0
	}
	return s.TotalBytes - s.BytesOnDisk
}

// Complete reports whether the file on disk already holds the whole resource.
func (s TransferState) Complete() bool {
	return s.TotalKnown && s.TotalBytes > 0 && s.BytesOnDisk >= s.TotalBytes
}

// DecryptionJob describes one invocation of the external decryption program.
type DecryptionJob struct {
	InputPath      string
	OutputPath     string
	Key            ResolvedKey
	Timeout        time.Duration
	PollInterval   time.Duration
	StallThreshold int
}

// DescriptorMetadata is naming metadata recovered from a decrypted payload.
type DescriptorMetadata struct {
	Identifier  string
	DisplayName string
}

// Empty reports whether nothing usable was recovered.
func (m DescriptorMetadata) Empty() bool {
	return m.Identifier == "" || m.DisplayName == ""
}
