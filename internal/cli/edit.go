package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
)

// edits is the parsed form of the edit flags, applied in the order
// remove, set, add.
type edits struct {
	set    []*vcard.Property
	add    []*vcard.Property
	remove []selector
}

type selector struct {
	field string
	n     int
}

func parseEdits(set, add, remove []string) (edits, error) {
	var e edits
	for _, s := range set {
		p, err := ParseAssignment(s)
		if err != nil {
			return e, err
		}
		e.set = append(e.set, p)
	}
	for _, s := range add {
		p, err := ParseAssignment(s)
		if err != nil {
			return e, err
		}
		e.add = append(e.add, p)
	}
	for _, s := range remove {
		field, n, err := ParseSelector(s)
		if err != nil {
			return e, err
		}
		e.remove = append(e.remove, selector{field: field, n: n})
	}
	if len(e.set)+len(e.add)+len(e.remove) == 0 {
		return e, userError{fmt.Errorf("nothing to change (use --set, --add or --remove)")}
	}
	return e, nil
}

// apply mutates r. --set replaces the first instance in place, or appends
// when the field is absent; a bare FIELD=value keeps that instance's
// parameters.
func (e edits) apply(r *vcard.Record) error {
	for _, sel := range e.remove {
		all := r.All(sel.field)
		if sel.n == 0 {
			r.RemoveAll(sel.field)
			continue
		}
		if sel.n > len(all) {
			return userError{fmt.Errorf("%s has %d instances, cannot remove #%d", sel.field, len(all), sel.n)}
		}
		r.Remove(all[sel.n-1])
	}
	for _, p := range e.set {
		cur := r.Get(p.Name)
		switch {
		case cur == nil:
			r.Add(p)
		case len(p.Params) == 0 && p.Group == "":
			cur.Value = p.Value
		default:
			*cur = *p
		}
	}
	for _, p := range e.add {
		r.Add(p)
	}
	return nil
}

func newEditCmd(a *app) *cobra.Command {
	var set, add, remove []string
	cmd := &cobra.Command{
		Use:   "edit <uid>",
		Short: "Change properties of a contact",
		Long: `Edit rewrites one contact. Removals run first, then --set, then --add.

  addrbook edit <uid> --set TITLE=Engineer
  addrbook edit <uid> --add "TEL;TYPE=cell:+1 555 0100"
  addrbook edit <uid> --remove EMAIL#2`,
		Args: usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := parseEdits(set, add, remove)
			if err != nil {
				return err
			}

			b, _, err := a.openBook(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Detach()

			rec, err := b.Edit(cmd.Context(), args[0], e.apply)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				ir, err := b.Indexed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ir)
			}
			_, err = cmd.OutOrStdout().Write(vcard.Render(rec))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "replace a property (FIELD=value)")
	cmd.Flags().StringArrayVar(&add, "add", nil, "add a property (FIELD=value or FIELD;PARAM=x:value)")
	cmd.Flags().StringArrayVar(&remove, "remove", nil, "remove a property (FIELD or FIELD#n)")
	return cmd
}
