package domain

import "time"

// ChannelDescriptor maps one source channel to one document-store collection.
type ChannelDescriptor struct {
	SourceID       string        `json:"source" yaml:"source"`
	DisplayName    string        `json:"name" yaml:"name"`
	CollectionName string        `json:"collection" yaml:"collection"`
	MediaNamespace string        `json:"mediaFolder" yaml:"mediaFolder"`
	FilePrefix     string        `json:"filePrefix,omitempty" yaml:"filePrefix,omitempty"`
	Retention      time.Duration `json:"-" yaml:"-"`
}
