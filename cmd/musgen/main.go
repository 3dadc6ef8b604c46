package main

import (
	"os"
	"reflect"
	"strings"

	musgen "github.com/mus-format/musgen-go/mus"
	genops "github.com/mus-format/musgen-go/options/generate"
	structops "github.com/mus-format/musgen-go/options/struct"
	typeops "github.com/mus-format/musgen-go/options/type"
	"github.com/poiesic/archivist/core"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	// If we're in the core subpackage, cd up to project root
	if strings.HasSuffix(cwd, "core") {
		if err := os.Chdir(".."); err != nil {
			panic(err)
		}
	}
	g, err := musgen.NewCodeGenerator(
		genops.WithPkgPath("github.com/poiesic/archivist/core"),
	)
	if err != nil {
		panic(err)
	}

	g.AddDefinedType(reflect.TypeFor[core.ID]())

	// Fetch dates keep nanoseconds, badger index keys are built from UnixNano
	err = g.AddStruct(reflect.TypeFor[core.Record](),
		structops.WithField(), // ID
		structops.WithField(), // ServiceID
		structops.WithField(), // DocumentType
		structops.WithField(), // MimeType
		structops.WithField(typeops.WithTimeUnit(typeops.NanoUTC)),
		structops.WithField(), // Content
		structops.WithField(), // IsFirstRecord
		structops.WithField(), // IsRefilter
		structops.WithField(), // SnapshotID
		structops.WithField()) // Metadata
	if err != nil {
		panic(err)
	}

	bs, err := g.Generate()
	if err != nil {
		panic(err)
	}

	err = os.WriteFile("./core/records_mus.gen.go", bs, 0644)
	if err != nil {
		panic(err)
	}
}
