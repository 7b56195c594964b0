package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"sigs.k8s.io/yaml"

	"github.com/mandelsoft/objectgraph/pkg/access"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
)

type List struct {
	Items []*access.ObjectData `json:"items"`
}

// Output prints objects in the requested format.
func Output(w io.Writer, format string, d *metadata.Descriptor, list []*access.ObjectData) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		return PrintObjectList(w, d, list)
	case "json":
		data, err := json.Marshal(&List{Items: list})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", string(data))
	case "yaml":
		data, err := yaml.Marshal(&List{Items: list})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s", string(data))
	default:
		return fmt.Errorf("invalid output format %q", format)
	}
	return nil
}

// PrintObjectList prints a table with the key, the entity, the
// attributes and the to-one relationships of the objects.
func PrintObjectList(w io.Writer, d *metadata.Descriptor, list []*access.ObjectData) error {
	if len(list) == 0 {
		fmt.Fprintf(w, "no object found\n")
		return nil
	}
	columns := []string{"KEY", "ENTITY"}
	for _, a := range d.Attributes {
		if !a.Key {
			columns = append(columns, strings.ToUpper(a.Name))
		}
	}
	for _, r := range d.ToOne {
		columns = append(columns, strings.ToUpper(r.Name))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, o := range list {
		fields := []string{o.Key, o.Entity}
		for _, a := range d.Attributes {
			if !a.Key {
				fields = append(fields, format(o.Attributes[a.Name]))
			}
		}
		for _, r := range d.ToOne {
			fields = append(fields, format(o.Relationships[r.Name]))
		}
		fmt.Fprintln(tw, strings.Join(fields, "\t"))
	}
	return tw.Flush()
}

func format(v any) string {
	if v == nil || v == "" {
		return "-"
	}
	return fmt.Sprintf("%v", v)
}
