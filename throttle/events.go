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

package throttle

import (
	"encoding/json"
	"log"
	"time"

	"github.com/godbus/dbus"
)

// QueueEvent uses the event api to record that something happened at a
// particular time. Extra details are merged into the event description.
func QueueEvent(eventType string, details map[string]interface{}) error {
	description := map[string]interface{}{
		"type": eventType,
	}
	if len(details) > 0 {
		description["details"] = details
	}
	detailsJSON, err := json.Marshal(map[string]interface{}{
		"description": description,
	})
	if err != nil {
		return err
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	obj := conn.Object("org.cacophony.Events", "/org/cacophony/Events")
	call := obj.Call("org.cacophony.Events.Queue", 0, detailsJSON, time.Now().UnixNano())
	return call.Err
}

// ThrottledEventRecorder uses the event api to record that classification
// was throttled at a particular time.
type ThrottledEventRecorder struct{}

func (er ThrottledEventRecorder) WhenThrottled() {
	if err := QueueEvent("classification-throttled", nil); err != nil {
		log.Printf("Could not record throttle event: %s", err)
	}
}
