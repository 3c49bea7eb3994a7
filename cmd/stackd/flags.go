package main

// Flag structs decouple cobra plumbing from command logic for testing.

type StartFlags struct {
	ConfigPath      string
	NoUI            bool
	NoObservability bool
	StatusOnly      bool
	StopOnly        bool
	Verbose         bool
}

type StatusFlags struct {
	ConfigPath string
	JSON       bool
}

type StopFlags struct {
	ConfigPath string
}
