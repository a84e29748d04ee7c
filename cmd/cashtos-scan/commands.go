package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zombor/cashtos/internal/ticket"
)

var errUnknownCommand = errors.New("unknown command")

// command is one line typed while editing a ticket
type command struct {
	name  string
	index int
	patch ticket.Patch
	item  ticket.ItemPatch
}

// short Spanish aliases for the record fields
var fieldAliases = map[string]string{
	"comercio":  "commerceName",
	"fecha":     "date",
	"total":     "totalAmount",
	"iva":       "ivaAmount",
	"pago":      "paymentMethod",
	"categoria": "category",
	"notas":     "notes",
}

var recordFields = map[string]bool{
	"commerceName":  true,
	"date":          true,
	"totalAmount":   true,
	"ivaAmount":     true,
	"paymentMethod": true,
	"category":      true,
	"notes":         true,
}

// parseCommand understands:
//
//	save | cancel | recompute | add | help
//	rm N
//	field=value             e.g. total=12,50 or categoria=salud
//	item N field=value      e.g. item 1 cantidad=3
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}

	switch fields[0] {
	case "save", "guardar":
		return command{name: "save"}, nil
	case "cancel", "cancelar":
		return command{name: "cancel"}, nil
	case "recompute", "recalcular":
		return command{name: "recompute"}, nil
	case "add", "añadir":
		return command{name: "add"}, nil
	case "help", "ayuda", "?":
		return command{name: "help"}, nil
	case "rm", "borrar":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: rm N")
		}
		index, err := itemNumber(fields[1])
		if err != nil {
			return command{}, err
		}
		return command{name: "rm", index: index}, nil
	case "item":
		if len(fields) < 3 {
			return command{}, fmt.Errorf("usage: item N field=value")
		}
		index, err := itemNumber(fields[1])
		if err != nil {
			return command{}, err
		}
		p, err := parseItemAssignment(strings.Join(fields[2:], " "))
		if err != nil {
			return command{}, err
		}
		return command{name: "item", index: index, item: p}, nil
	}

	if strings.Contains(line, "=") {
		p, err := parseAssignment(line)
		if err != nil {
			return command{}, err
		}
		return command{name: "edit", patch: p}, nil
	}
	return command{}, fmt.Errorf("%w: %s", errUnknownCommand, fields[0])
}

// itemNumber turns a 1-based item number into an index
func itemNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid item number %q", s)
	}
	return n - 1, nil
}

func splitAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("expected field=value, got %q", s)
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), nil
}

// parseAssignment builds a patch through JSON so amounts are parsed by Money
func parseAssignment(s string) (ticket.Patch, error) {
	key, value, err := splitAssignment(s)
	if err != nil {
		return ticket.Patch{}, err
	}
	if alias, ok := fieldAliases[ticket.Fold(key)]; ok {
		key = alias
	}
	if !recordFields[key] {
		return ticket.Patch{}, fmt.Errorf("unknown field %q", key)
	}

	var p ticket.Patch
	switch key {
	case "totalAmount", "ivaAmount":
		value = strings.Replace(value, ",", ".", 1)
	case "paymentMethod":
		if pm, ok := ticket.ParsePaymentMethod(value); ok {
			value = string(pm)
		}
	case "category":
		if c, ok := ticket.ParseCategory(value); ok {
			value = string(c)
		}
	}
	b, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return p, nil
}

func parseItemAssignment(s string) (ticket.ItemPatch, error) {
	key, value, err := splitAssignment(s)
	if err != nil {
		return ticket.ItemPatch{}, err
	}

	var p ticket.ItemPatch
	switch ticket.Fold(key) {
	case "name", "nombre":
		p.Name = &value
	case "quantity", "cantidad":
		q, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
		if err != nil {
			return p, fmt.Errorf("invalid quantity %q", value)
		}
		p.Quantity = &q
	case "unitprice", "precio":
		m, err := ticket.ParseMoney(strings.Replace(value, ",", ".", 1))
		if err != nil {
			return p, err
		}
		p.UnitPrice = &m
	default:
		return p, fmt.Errorf("unknown item field %q", key)
	}
	return p, nil
}
