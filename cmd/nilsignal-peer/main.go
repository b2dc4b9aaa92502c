// nilsignal-peer establishes a WebRTC data channel with another peer using
// a nilsignal server for signaling, and then pipes stdin to the channel and
// the channel to stdout.
//
// The offering peer creates the channel, posts its offer and trickles its
// candidates. The answering peer gathers all of its candidates before
// posting the answer, as a channel has a single candidate list.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/knadh/nilsignal/internal/client"
	"github.com/pion/webrtc/v4"
	flag "github.com/spf13/pflag"
)

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

type opt struct {
	role     string
	channel  string
	stun     []string
	timeout  time.Duration
	interval time.Duration
}

func main() {
	f := flag.NewFlagSet("nilsignal-peer", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	var (
		url = f.String("url", "http://localhost:9000/", "nilsignal RPC URL")
		o   opt
	)
	f.StringVar(&o.role, "role", "offer", "offer | answer")
	f.StringVar(&o.channel, "channel", "", "Channel ID to answer (required with --role=answer)")
	f.StringSliceVar(&o.stun, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	f.DurationVar(&o.timeout, "timeout", 5*time.Minute, "Time to wait for the other peer")
	f.DurationVar(&o.interval, "poll-interval", time.Second, "Signaling poll interval")
	if err := f.Parse(os.Args[1:]); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: o.stun}},
	})
	if err != nil {
		logger.Fatalf("error creating peer connection: %v", err)
	}
	defer pc.Close()

	var (
		connected = make(chan struct{})
		once      sync.Once
	)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Printf("connection state: %s", s)
		switch s {
		case webrtc.PeerConnectionStateConnected:
			once.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			os.Exit(1)
		}
	})

	cl := client.New(*url, nil)
	switch o.role {
	case "offer":
		err = runOfferer(ctx, cl, pc, o)
	case "answer":
		if o.channel == "" {
			logger.Fatal("--channel is required with --role=answer")
		}
		err = runAnswerer(ctx, cl, pc, o, connected)
	default:
		logger.Fatalf("unknown role '%s'", o.role)
	}
	if err != nil {
		logger.Fatal(err)
	}

	select {
	case <-connected:
	case <-ctx.Done():
		logger.Fatal("timed out waiting for the peer connection")
	}

	// Block forever. The process exits when the connection closes.
	select {}
}

// runOfferer creates a channel, posts an offer and candidates, and waits
// for the answer.
func runOfferer(ctx context.Context, cl *client.Client, pc *webrtc.PeerConnection, o opt) error {
	id, err := cl.CreateDataChannel(ctx)
	if err != nil {
		return fmt.Errorf("error creating channel: %v", err)
	}
	logger.Printf("created channel. Run the other peer with: --role=answer --channel=%s", id)

	dc, err := pc.CreateDataChannel("nilsignal", nil)
	if err != nil {
		return err
	}
	pipe(dc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := cl.CreateCandidate(ctx, id, c.ToJSON()); err != nil {
			logger.Printf("error posting candidate: %v", err)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	if err := cl.CreateOffer(ctx, id, offer.SDP); err != nil {
		return fmt.Errorf("error posting offer: %v", err)
	}

	var sdp string
	if err := poll(ctx, o.interval, func() (bool, error) {
		sdp, err = cl.GetAnswer(ctx, id)
		return err == nil, err
	}); err != nil {
		return fmt.Errorf("error waiting for answer: %v", err)
	}

	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// runAnswerer fetches the offer, posts a fully gathered answer and adds the
// offerer's candidates as they appear until the connection is up.
func runAnswerer(ctx context.Context, cl *client.Client, pc *webrtc.PeerConnection, o opt, connected chan struct{}) error {
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		pipe(dc)
	})

	var (
		sdp string
		err error
	)
	if err := poll(ctx, o.interval, func() (bool, error) {
		sdp, err = cl.GetOffer(ctx, o.channel)
		return err == nil, err
	}); err != nil {
		return fmt.Errorf("error waiting for offer: %v", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	<-gathered

	if err := cl.CreateAnswer(ctx, o.channel, pc.LocalDescription().SDP); err != nil {
		return fmt.Errorf("error posting answer: %v", err)
	}

	// Add the offerer's candidates in the background.
	go func() {
		added := 0
		t := time.NewTicker(o.interval)
		defer t.Stop()
		for {
			items, err := cl.GetCandidates(ctx, o.channel)
			if err != nil {
				logger.Printf("error getting candidates: %v", err)
			}
			for ; added < len(items); added++ {
				var c webrtc.ICECandidateInit
				if err := json.Unmarshal(items[added], &c); err != nil {
					logger.Printf("invalid candidate %s: %v", items[added], err)
					continue
				}
				if err := pc.AddICECandidate(c); err != nil {
					logger.Printf("error adding candidate: %v", err)
				}
			}

			select {
			case <-connected:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return nil
}

// pipe wires a data channel to stdin and stdout once it opens.
func pipe(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		logger.Printf("data channel '%s' open", dc.Label())
		go func() {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				if err := dc.SendText(sc.Text()); err != nil {
					logger.Printf("error sending: %v", err)
					return
				}
			}
		}()
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		fmt.Println(string(m.Data))
	})
}

// poll calls fn every interval until it returns true. Not-found errors are
// retried, other errors are returned.
func poll(ctx context.Context, interval time.Duration, fn func() (bool, error)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		ok, err := fn()
		if ok {
			return nil
		}
		if err != nil && !client.IsNotFound(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
