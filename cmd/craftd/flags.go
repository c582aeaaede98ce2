package main

import "time"

// GlobalFlags holds persistent flags shared by all CLI commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags common to client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Name   string
	Port   int
	Memory string
	Jar    string
	API    APIFlags
}

// InstanceFlags holds flags for commands addressing one instance.
type InstanceFlags struct {
	ID  string
	API APIFlags
}

// CommandFlags holds flags for the command subcommand.
type CommandFlags struct {
	ID   string
	Text string
	API  APIFlags
}

// UploadFlags holds flags for the upload command.
type UploadFlags struct {
	File string
	API  APIFlags
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
