package main

import (
	"fmt"
	"os"

	"github.com/run-ci/matrix/store"
	"github.com/run-ci/matrix/workflow"
	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: go run dev/seed-db/main.go -- $POSTGRES_CONNECTION_STRING $DATA_YAML_PATH")
}

type data struct {
	Users     []store.User
	Pipelines []pipeline
}

type pipeline struct {
	Name       string
	Remote     string
	Definition string
}

func main() {
	// This is 4 because passing arguments to `go run` requires the `--` and
	// that also counts as one of the arguments in `os.Args`.
	if len(os.Args) != 4 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]

	connstr := args[0]
	path := args[1]
	if connstr == "" || path == "" {
		usage()
		os.Exit(1)
	}

	fmt.Printf("seeding %v with data from %v\n", connstr, path)

	buf, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	var d data
	err = yaml.UnmarshalStrict(buf, &d)
	if err != nil {
		fmt.Printf("got error loading YAML: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewPostgres(connstr)
	if err != nil {
		fmt.Printf("got error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		fmt.Printf("got error migrating schema: %v\n", err)
		os.Exit(1)
	}

	for _, u := range d.Users {
		err := st.CreateUser(&u)
		if err == store.ErrUserExists {
			fmt.Printf("user %v already exists\n", u.Email)
			continue
		}
		if err != nil {
			fmt.Printf("got error saving user %v: %v\n", u.Email, err)
			os.Exit(1)
		}

		fmt.Printf("saved user %v\n", u.Email)
	}

	for _, sp := range d.Pipelines {
		if _, err := workflow.Parse(sp.Name, []byte(sp.Definition)); err != nil {
			fmt.Printf("skipping pipeline %v: %v\n", sp.Name, err)
			continue
		}

		if _, err := st.GetPipelineID(sp.Remote, sp.Name); err == nil {
			fmt.Printf("pipeline %v on %v already exists\n", sp.Name, sp.Remote)
			continue
		}

		p := store.Pipeline{
			Name:       sp.Name,
			Remote:     sp.Remote,
			Definition: sp.Definition,
		}
		if err := st.CreatePipeline(&p); err != nil {
			fmt.Printf("got error saving pipeline %v: %v\n", sp.Name, err)
			os.Exit(1)
		}

		fmt.Printf("saved pipeline %v with id %v\n", p.Name, p.ID)
	}
}
