// Package board is the render surface: one card per device holding the
// values a user sees and edits, plus the last datastore snapshot.
//
// Card values are what the coalescer reads at flush time. A card's edit
// handler is attached once, when the card is created; later renders
// only refresh values.
//
// A Board belongs to the session loop and is not safe for concurrent
// use.
package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/snapshot"
)

var ErrNoCard = errors.New("no card for device")

// EditFunc is called when the user changes one property of a card.
type EditFunc func(deviceID string, p device.Property)

type Card struct {
	DeviceID string
	Name     string
	Values   device.State

	onEdit   EditFunc
	handlers int
}

// Handlers is the number of edit handlers attached to the card.
func (c *Card) Handlers() int { return c.handlers }

type Board struct {
	order  []string
	cards  map[string]*Card
	onEdit EditFunc

	snapshot  snapshot.Node
	sizeLabel string
	expired   bool
}

// New returns an empty board. onEdit is attached to every new card.
func New(onEdit EditFunc) *Board {
	return &Board{cards: make(map[string]*Card), onEdit: onEdit}
}

// RenderUpsert creates or refreshes the card for info.
func (b *Board) RenderUpsert(info device.Info, first bool) {
	card, ok := b.cards[info.DeviceID]
	if !ok {
		card = &Card{DeviceID: info.DeviceID}
		b.cards[info.DeviceID] = card
		b.order = append(b.order, info.DeviceID)
	}
	card.Name = info.DeviceName
	card.Values = info.State.Clone()
	if first && b.onEdit != nil {
		card.onEdit = b.onEdit
		card.handlers++
	}
}

func (b *Board) RenderRemove(deviceID string) {
	if _, ok := b.cards[deviceID]; !ok {
		return
	}
	delete(b.cards, deviceID)
	b.order = slices.DeleteFunc(b.order, func(id string) bool { return id == deviceID })
}

func (b *Board) RenderSnapshot(blob snapshot.Node, sizeLabel string) error {
	b.snapshot = blob
	b.sizeLabel = sizeLabel
	return nil
}

// CurrentState returns the values shown on the card.
func (b *Board) CurrentState(deviceID string) (device.State, bool) {
	card, ok := b.cards[deviceID]
	if !ok {
		return device.State{}, false
	}
	return card.Values.Clone(), true
}

// Card returns a copy of the card for deviceID.
func (b *Board) Card(deviceID string) (Card, bool) {
	card, ok := b.cards[deviceID]
	if !ok {
		return Card{}, false
	}
	c := *card
	c.Values = card.Values.Clone()
	return c, true
}

// IDs returns the card ids in render order.
func (b *Board) IDs() []string { return slices.Clone(b.order) }

// Set changes one property of a card as a form widget would, then fires
// the card's edit handler.
func (b *Board) Set(deviceID string, p device.Property, args []string) error {
	card, ok := b.cards[deviceID]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoCard, deviceID)
	}
	v, err := device.ParseValue(p, args, card.Values)
	if err != nil {
		return err
	}
	card.Values = card.Values.Merge(v)
	if card.onEdit != nil {
		card.onEdit(deviceID, p)
	}
	return nil
}

// SetAll sets the switch of every card to value.
func (b *Board) SetAll(value string) error {
	for _, id := range b.order {
		if err := b.Set(id, device.Switch, []string{value}); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the last rendered snapshot and its size label.
func (b *Board) Snapshot() (snapshot.Node, string) { return b.snapshot, b.sizeLabel }

// MarkExpired records that the session is over.
func (b *Board) MarkExpired() { b.expired = true }

func (b *Board) Expired() bool { return b.expired }

// Print writes the cards as a table.
func (b *Board) Print(w io.Writer) error {
	if b.expired {
		if _, err := fmt.Fprintln(w, "*** URL Expired ***"); err != nil {
			return err
		}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := []string{"DEVICE", "NAME"}
	for _, p := range device.Properties {
		header = append(header, strings.ToUpper(string(p)))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, id := range b.order {
		card := b.cards[id]
		row := []string{card.DeviceID, card.Name}
		for _, p := range device.Properties {
			row = append(row, card.Values.Format(p))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// PrintSnapshot writes the last snapshot as indented JSON, preceded by
// its size label.
func (b *Board) PrintSnapshot(w io.Writer) error {
	if b.snapshot == nil {
		_, err := fmt.Fprintln(w, "no datastore yet")
		return err
	}
	data, err := json.MarshalIndent(b.snapshot, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode datastore: %w", err)
	}
	_, err = fmt.Fprintf(w, "datastore (%s)\n%s\n", b.sizeLabel, data)
	return err
}
