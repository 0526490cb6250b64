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

// Package classifierclient talks to a running frame-classifier over D-Bus.
package classifierclient

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus"
)

const (
	dbusPath   = "/org/cacophony/frameclassifier"
	dbusDest   = "org.cacophony.frameclassifier"
	methodBase = "org.cacophony.frameclassifier"
)

type Recognition struct {
	ID         string
	Label      string
	Confidence float64
}

func (r Recognition) String() string {
	return fmt.Sprintf("[%s] %s (%.1f%%)", r.ID, r.Label, r.Confidence*100)
}

type ClassifierSettings struct {
	Model   string
	Device  string
	Threads int32
}

func getDbusObj() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusDest, dbusPath)
	return obj, nil
}

func Recognitions() ([]Recognition, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}
	var recs []Recognition
	err = obj.Call(methodBase+".Recognitions", 0).Store(&recs)
	return recs, err
}

func FrameInfo() (map[string]dbus.Variant, error) {
	return variantMap("FrameInfo")
}

func Stats() (map[string]dbus.Variant, error) {
	return variantMap("Stats")
}

func variantMap(method string) (map[string]dbus.Variant, error) {
	obj, err := getDbusObj()
	if err != nil {
		return nil, err
	}
	var m map[string]dbus.Variant
	err = obj.Call(methodBase+"."+method, 0).Store(&m)
	return m, err
}

func Classifier() (ClassifierSettings, error) {
	var s ClassifierSettings
	obj, err := getDbusObj()
	if err != nil {
		return s, err
	}
	err = obj.Call(methodBase+".Classifier", 0).Store(&s.Model, &s.Device, &s.Threads)
	return s, err
}

// SetClassifier changes the classifier. Empty strings and zero threads keep
// the current values.
func SetClassifier(s ClassifierSettings) error {
	obj, err := getDbusObj()
	if err != nil {
		return err
	}
	return obj.Call(methodBase+".SetClassifier", 0, s.Model, s.Device, s.Threads).Store()
}

// FormatVariants lists a map of variants one key per line in key order.
func FormatVariants(m map[string]dbus.Variant) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, m[k].Value())
	}
	return sb.String()
}
