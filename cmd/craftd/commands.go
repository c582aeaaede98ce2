package main

import (
	"encoding/json"
	"fmt"
	"os"
)

type command struct{}

func (command) client(f APIFlags) (*APIClient, error) {
	c := NewAPIClient(f.URL, f.Timeout)
	if !c.IsReachable() {
		url := f.URL
		if url == "" {
			url = "http://127.0.0.1:8080/api"
		}
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'craftd serve'", url)
	}
	return c, nil
}

// Create registers a new instance via the daemon API.
func (c command) Create(f CreateFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	rec, err := api.CreateInstance(f.Name, f.Port, f.Memory, f.Jar)
	if err != nil {
		return err
	}
	printJSON(rec)
	return nil
}

// List prints all instance records.
func (c command) List(f APIFlags) error {
	api, err := c.client(f)
	if err != nil {
		return err
	}
	recs, err := api.ListInstances()
	if err != nil {
		return err
	}
	printJSON(recs)
	return nil
}

// Status prints the runtime status of one instance.
func (c command) Status(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	st, err := api.GetStatus(f.ID)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Start spawns the instance's process.
func (c command) Start(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	res, err := api.StartInstance(f.ID)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Stop sends the graceful-stop line. The command returns before the
// process exits; use status to confirm.
func (c command) Stop(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	if err := api.StopInstance(f.ID); err != nil {
		return err
	}
	fmt.Printf("stop requested for %s\n", f.ID)
	return nil
}

// Kill force-terminates the instance's process.
func (c command) Kill(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	if err := api.KillInstance(f.ID); err != nil {
		return err
	}
	fmt.Printf("killed %s\n", f.ID)
	return nil
}

// Delete removes an instance record and its directory.
func (c command) Delete(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	if err := api.DeleteInstance(f.ID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", f.ID)
	return nil
}

// Command writes one console command line.
func (c command) Command(f CommandFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	return api.SendCommand(f.ID, f.Text)
}

// Logs prints the bounded console tail.
func (c command) Logs(f InstanceFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	content, err := api.GetConsole(f.ID)
	if err != nil {
		return err
	}
	fmt.Println(content)
	return nil
}

// Upload stores a server jar in the daemon's artifact store.
func (c command) Upload(f UploadFlags) error {
	api, err := c.client(f.API)
	if err != nil {
		return err
	}
	name, err := api.UploadArtifact(f.File)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %s\n", name)
	return nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
