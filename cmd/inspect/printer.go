package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
)

type printer struct {
	format string
	out    io.Writer
}

func newPrinter(format string, out io.Writer) (printer, error) {
	switch format {
	case formatTable, formatYAML:
		return printer{format: format, out: out}, nil
	default:
		return printer{}, fmt.Errorf("unknown format %q", format)
	}
}

func (p printer) accounts(rows []accountRow) error {
	if p.format == formatYAML {
		return p.yaml(map[string]any{"accounts": rows})
	}
	p.title(fmt.Sprintf("%d accounts", len(rows)))
	table := p.table([]string{"Username", "Last login", "Undelivered"})
	for _, row := range rows {
		table.Append([]string{row.Username, row.LastLogin, strconv.Itoa(row.Undelivered)})
	}
	table.Render()
	return nil
}

func (p printer) conversation(user, peer string, rows []messageRow) error {
	if p.format == formatYAML {
		return p.yaml(map[string]any{"participants": []string{user, peer}, "messages": rows})
	}
	p.title(fmt.Sprintf("%s <-> %s, %d messages", user, peer, len(rows)))
	table := p.table([]string{"Seq", "At", "Sender", "Receiver", "Delivered", "Text"})
	for _, row := range rows {
		table.Append([]string{
			strconv.FormatUint(row.Seq, 10),
			row.At,
			row.Sender,
			row.Receiver,
			lo.Ternary(row.Delivered, color.Green.Sprint("yes"), color.Yellow.Sprint("no")),
			row.Text,
		})
	}
	table.Render()
	return nil
}

func (p printer) title(text string) {
	fmt.Fprintln(p.out, color.New(color.FgCyan, color.OpBold).Render(text))
}

func (p printer) table(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func (p printer) yaml(v any) error {
	encoder := yaml.NewEncoder(p.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}
