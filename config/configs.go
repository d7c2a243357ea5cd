package config

import (
	"encoding/xml"
	"fmt"
	"os"
)

var MainRouter string
var DSN string
var Dbname string
var Download string
var MainConfig Config

// matching defaults, overridden by config.xml when present
var MatchingToleranz float64 = 20.0
var MindestMatchAnteil float64 = 0.8
var ProgressSchrittProzent int = 5
var KonsistenzIntervallMinuten int = 60

type WFSQuelle struct {
	Name string `xml:"name,attr"`
	URL  string `xml:"url"`
}

type Config struct {
	XMLName                    xml.Name    `xml:"config"`
	MainRouter                 string      `xml:"MainRouter"`
	Dbname                     string      `xml:"dbname"`
	Host                       string      `xml:"host"`
	Port                       string      `xml:"port"`
	Username                   string      `xml:"user"`
	Password                   string      `xml:"password"`
	Download                   string      `xml:"download"`
	MatchingToleranz           float64     `xml:"MatchingToleranz"`
	MindestMatchAnteil         float64     `xml:"MindestMatchAnteil"`
	ProgressSchrittProzent     int         `xml:"ProgressSchrittProzent"`
	KonsistenzIntervallMinuten int         `xml:"KonsistenzIntervallMinuten"`
	WFSQuellen                 []WFSQuelle `xml:"WFSQuellen>quelle"`
}

func init() {

	xmlFile, err := os.Open("config.xml")
	if err != nil {
		fmt.Println("Error  opening  file:", err)
		return
	}
	defer xmlFile.Close()

	xmlDecoder := xml.NewDecoder(xmlFile)
	err = xmlDecoder.Decode(&MainConfig)
	if err != nil {
		fmt.Println("Error  decoding  XML:", err)
		return
	}
	MainRouter = MainConfig.MainRouter
	Dbname = MainConfig.Dbname
	Download = MainConfig.Download
	if MainConfig.MatchingToleranz > 0 {
		MatchingToleranz = MainConfig.MatchingToleranz
	}
	if MainConfig.MindestMatchAnteil > 0 {
		MindestMatchAnteil = MainConfig.MindestMatchAnteil
	}
	if MainConfig.ProgressSchrittProzent > 0 {
		ProgressSchrittProzent = MainConfig.ProgressSchrittProzent
	}
	if MainConfig.KonsistenzIntervallMinuten > 0 {
		KonsistenzIntervallMinuten = MainConfig.KonsistenzIntervallMinuten
	}

	DSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", MainConfig.Host, MainConfig.Username, MainConfig.Password, MainConfig.Dbname, MainConfig.Port)
}

// WFSQuelleURL looks up a configured feed by name, "" when unknown.
func WFSQuelleURL(name string) string {
	for _, q := range MainConfig.WFSQuellen {
		if q.Name == name {
			return q.URL
		}
	}
	return ""
}
