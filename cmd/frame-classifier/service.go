// frame-classifier - classify live camera preview frames on device
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"sync"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/pipeline"
)

const (
	dbusName = "org.cacophony.frameclassifier"
	dbusPath = "/org/cacophony/frameclassifier"
)

type classifierControl interface {
	Reconfigure(classifier.Config) error
	Stats() pipeline.Stats
}

type service struct {
	control classifierControl
	results *resultStore

	mu   sync.Mutex
	conf classifier.Config
}

// dbusRecognition is sent as a (ssd) struct.
type dbusRecognition struct {
	ID         string
	Label      string
	Confidence float64
}

func startService(control classifierControl, results *resultStore, conf classifier.Config) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := newService(control, results, conf)
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func newService(control classifierControl, results *resultStore, conf classifier.Config) *service {
	return &service{
		control: control,
		results: results,
		conf:    conf,
	}
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Recognitions returns the top results for the most recently classified
// frame, best first.
func (s *service) Recognitions() ([]dbusRecognition, *dbus.Error) {
	result, _ := s.results.Latest()
	out := make([]dbusRecognition, 0, len(result.Recognitions))
	for _, r := range result.Recognitions {
		out = append(out, dbusRecognition{
			ID:         r.ID,
			Label:      r.Label,
			Confidence: float64(r.Confidence),
		})
	}
	return out, nil
}

// FrameInfo describes the frame the current recognitions came from.
func (s *service) FrameInfo() (map[string]dbus.Variant, *dbus.Error) {
	result, count := s.results.Latest()
	info := result.FrameInfo
	return map[string]dbus.Variant{
		"Width":       dbus.MakeVariant(int32(info.Width)),
		"Height":      dbus.MakeVariant(int32(info.Height)),
		"CropSize":    dbus.MakeVariant(int32(info.CropSize)),
		"InputWidth":  dbus.MakeVariant(int32(info.InputWidth)),
		"InputHeight": dbus.MakeVariant(int32(info.InputHeight)),
		"Orientation": dbus.MakeVariant(int32(info.Orientation)),
		"LatencyMs":   dbus.MakeVariant(info.Latency.Milliseconds()),
		"SessionID":   dbus.MakeVariant(info.SessionID),
		"Results":     dbus.MakeVariant(int64(count)),
	}, nil
}

func (s *service) Stats() (map[string]dbus.Variant, *dbus.Error) {
	stats := s.control.Stats()
	return map[string]dbus.Variant{
		"Admitted":     dbus.MakeVariant(stats.Admission.Admitted),
		"Dropped":      dbus.MakeVariant(stats.Admission.Dropped),
		"Throttled":    dbus.MakeVariant(stats.Admission.Throttled),
		"Processed":    dbus.MakeVariant(stats.Processed),
		"Published":    dbus.MakeVariant(stats.Published),
		"Failed":       dbus.MakeVariant(stats.Failed),
		"Unclassified": dbus.MakeVariant(stats.Unclassified),
		"Classifier":   dbus.MakeVariant(stats.Classifier),
		"SessionID":    dbus.MakeVariant(stats.SessionID),
	}, nil
}

// SetClassifier swaps the classifier between frames. An empty model or
// device keeps the current setting and threads of 0 keeps the current
// thread count.
func (s *service) SetClassifier(model, device string, threads int32) *dbus.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf := s.conf
	if model != "" {
		m, err := classifier.ParseModel(model)
		if err != nil {
			return makeDbusError("SetClassifier", err)
		}
		conf.Model = m
	}
	if device != "" {
		d, err := classifier.ParseDevice(device)
		if err != nil {
			return makeDbusError("SetClassifier", err)
		}
		conf.Device = d
	}
	if threads != 0 {
		conf.Threads = int(threads)
	}

	// The pipeline drops its old classifier even if the new one fails.
	s.conf = conf
	if err := s.control.Reconfigure(conf); err != nil {
		return makeDbusError("SetClassifier", err)
	}
	return nil
}

// Classifier returns the current classifier settings.
func (s *service) Classifier() (string, string, int32, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.Model.String(), s.conf.Device.String(), int32(s.conf.Threads), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
