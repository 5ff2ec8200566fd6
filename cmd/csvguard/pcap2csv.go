package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	guardio "github.com/hed1ad/csvguard/pkg/io"
	"github.com/hed1ad/csvguard/pkg/io/pcap"
)

func newPcap2CSVCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pcap2csv <in.pcap> <out.csv>",
		Short: "Convert a packet capture into a per-packet feature CSV",
		Long: `pcap2csv reads a pcap or pcapng file and writes one CSV row per packet with
the features packet_size, inter_arrival_time, protocol, src_port, dst_port,
tcp_flags, ip_ttl and payload_size. The result can be passed to detect.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pcap.NewFileReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}

			n, err := guardio.WriteFeatureCSV(out, r)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			a.log.Infof(cmd.Context(), "converted %s: %d packets", args[0], n)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", n, args[1])
			return nil
		},
	}
}
