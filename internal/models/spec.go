package models

import "time"

type ReplicaSpec struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Tasks       []*TaskSpec `yaml:"tasks"`
	Settings    *Settings   `yaml:"settings"`
}

type TaskSpec struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

type Settings struct {
	Timeout time.Duration `yaml:"timeout"`
	Shell   string        `yaml:"shell"`
}
